// Package media captures microphone audio with ffmpeg and moves it between
// the local machine and a realtime peer.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CaptureSampleRate is the rate ffmpeg records at. Opus runs at 48 kHz and
// raw PCM is resampled from it on demand.
const CaptureSampleRate = 48000

// Encoding selects what a capture emits on its stdout.
type Encoding int

const (
	// EncodingPCM is signed 16-bit little-endian mono PCM.
	EncodingPCM Encoding = iota
	// EncodingOpus is an Ogg/Opus stream with 20 ms pages.
	EncodingOpus
)

// FFmpeg starts microphone captures through an ffmpeg subprocess.
type FFmpeg struct {
	// Command is the ffmpeg binary. Defaults to "ffmpeg".
	Command string
	// InputFormat is the ffmpeg input device format, e.g. "pulse",
	// "avfoundation" or "dshow". Defaults to "pulse".
	InputFormat string
	// InputDevice is the device name. Defaults to "default".
	InputDevice string
	// StartupGrace is how long the process must survive before the capture
	// is considered started. Defaults to 250ms.
	StartupGrace time.Duration
}

func (f *FFmpeg) args(enc Encoding) []string {
	inputFormat := f.InputFormat
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	device := f.InputDevice
	if device == "" {
		device = "default"
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(CaptureSampleRate),
	}
	switch enc {
	case EncodingOpus:
		args = append(args,
			"-c:a", "libopus",
			"-application", "voip",
			"-frame_duration", "20",
			"-page_duration", "20000",
			"-f", "ogg",
		)
	default:
		args = append(args, "-f", "s16le")
	}
	return append(args, "-")
}

// Start launches ffmpeg. The returned Capture streams the encoded audio until
// it is closed or ctx is done.
func (f *FFmpeg) Start(ctx context.Context, enc Encoding) (*Capture, error) {
	command := f.Command
	if command == "" {
		command = "ffmpeg"
	}
	grace := f.StartupGrace
	if grace <= 0 {
		grace = 250 * time.Millisecond
	}

	cmd := exec.CommandContext(ctx, command, f.args(enc)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("media: ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("media: ffmpeg exited before capture started")
	case <-time.After(grace):
	}

	return &Capture{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// Capture is a running ffmpeg process. Read returns its encoded output.
type Capture struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (c *Capture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Close interrupts ffmpeg, killing it if it does not exit promptly.
func (c *Capture) Close() error {
	c.stopOnce.Do(func() {
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = ignoreExitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if c.process != nil {
				_ = c.process.Kill()
			}
			if err, ok := <-c.waitErr; ok {
				c.stopErr = ignoreExitErr(err)
			}
		}

		if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = err
		}
		if c.stopErr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, strings.TrimSpace(c.stderr.String()))
		}
	})
	return c.stopErr
}

// ignoreExitErr drops the non-zero exit status ffmpeg reports when it is
// interrupted.
func ignoreExitErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
