package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kronktech/sully/cmd/sully/internal/config"
)

// setupTestEnv points the config directory at a temp dir and optionally
// writes a config file into it. It returns the directory.
func setupTestEnv(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.DirEnv, dir)
	for _, key := range []string{"OPENAI_API_KEY", "DEEPGRAM_API_KEY", "GEMINI_API_KEY", "SULLY_BACKEND_URL", "SULLY_TRANSPORT", "SULLY_RECOGNIZER", "SULLY_SUMMARIZER", "SULLY_DB"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	if content != "" {
		if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	configPath = ""
	formatOutput = "table"
	conversationsDB = ""
	versionFormat = ""
	configShowReveal, configInitForce = false, false
	serveAddr, serveDB, serveMemory = "", "", false
	runStdin, runNoView, runMetricsAddr, runTransport = false, false, "", ""
	globalConfig = nil
	configLoadErr = nil

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		} else {
			stderr += err.Error()
		}
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
