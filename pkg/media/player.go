package media

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultPlayer plays a file or stdin without a window.
var DefaultPlayer = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}

// Player plays audio through an external command.
type Player struct {
	// Command and its leading arguments. Defaults to DefaultPlayer.
	Command []string
}

func (p *Player) command(ctx context.Context, input string) (*exec.Cmd, error) {
	argv := p.Command
	if len(argv) == 0 {
		argv = DefaultPlayer
	}
	if strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("media: empty player command")
	}
	args := append(append([]string(nil), argv[1:]...), input)
	return exec.CommandContext(ctx, argv[0], args...), nil
}

// PlayFile plays path to completion.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	cmd, err := p.command(ctx, path)
	if err != nil {
		return err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("media: play %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Pipe starts the player reading from its stdin and returns the writer. The
// player exits when the writer is closed or ctx is done.
func (p *Player) Pipe(ctx context.Context) (io.WriteCloser, error) {
	cmd, err := p.command(ctx, "-")
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("media: player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start player: %w", err)
	}
	return &pipe{WriteCloser: stdin, cmd: cmd}, nil
}

type pipe struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (p *pipe) Close() error {
	err := p.WriteCloser.Close()
	if werr := p.cmd.Wait(); werr != nil {
		if _, ok := werr.(*exec.ExitError); !ok && err == nil {
			err = werr
		}
	}
	return err
}
