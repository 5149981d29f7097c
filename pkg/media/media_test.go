package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestFFmpegCaptureReadAndClose(t *testing.T) {
	script := writeScript(t, "capture.sh", "#!/bin/sh\nprintf 'hello'\nsleep 2\n")
	f := &FFmpeg{Command: script}

	capture, err := f.Start(context.Background(), EncodingPCM)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf := make([]byte, 8)
	n, _ := capture.Read(buf)
	if got := string(buf[:n]); got != "hello" {
		t.Fatalf("read %q, want hello", got)
	}
	if err := capture.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFFmpegCaptureEarlyExit(t *testing.T) {
	script := writeScript(t, "fail.sh", "#!/bin/sh\necho 'no device' 1>&2\nexit 1\n")
	f := &FFmpeg{Command: script}

	_, err := f.Start(context.Background(), EncodingOpus)
	if err == nil {
		t.Fatal("expected early exit error")
	}
	if !strings.Contains(err.Error(), "no device") {
		t.Fatalf("error %q does not carry stderr", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	f := &FFmpeg{InputFormat: "avfoundation", InputDevice: ":0"}
	pcm := strings.Join(f.args(EncodingPCM), " ")
	if !strings.Contains(pcm, "-f avfoundation -i :0") || !strings.HasSuffix(pcm, "-f s16le -") {
		t.Fatalf("pcm args = %s", pcm)
	}
	opus := strings.Join(f.args(EncodingOpus), " ")
	if !strings.Contains(opus, "-c:a libopus") || !strings.HasSuffix(opus, "-f ogg -") {
		t.Fatalf("opus args = %s", opus)
	}
}

type sampleRecorder struct {
	samples []pionmedia.Sample
}

func (r *sampleRecorder) WriteSample(s pionmedia.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestSinkToPumpRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSink(nopWriteCloser{&buf}, nil)
	if err != nil {
		t.Fatal(err)
	}
	payloads := []string{"frame-a", "frame-b", "frame-c"}
	for i, p := range payloads {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i), Timestamp: uint32(1000 + 960*i)},
			Payload: []byte(p),
		}
		if err := sink.WriteRTP(pkt); err != nil {
			t.Fatalf("WriteRTP: %v", err)
		}
	}
	if err := sink.WriteRTP(&rtp.Packet{}); err != nil {
		t.Fatalf("empty packet: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteRTP(&rtp.Packet{Payload: []byte("late")}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("write after close = %v", err)
	}

	rec := &sampleRecorder{}
	if err := PumpOgg(context.Background(), &buf, rec); err != nil {
		t.Fatalf("PumpOgg: %v", err)
	}
	if len(rec.samples) != len(payloads) {
		t.Fatalf("samples = %d, want %d", len(rec.samples), len(payloads))
	}
	for i, s := range rec.samples {
		if string(s.Data) != payloads[i] {
			t.Errorf("sample %d = %q, want %q", i, s.Data, payloads[i])
		}
		if s.Duration != 20*time.Millisecond {
			t.Errorf("sample %d duration = %v", i, s.Duration)
		}
	}
}

func TestPumpOggRejectsGarbage(t *testing.T) {
	err := PumpOgg(context.Background(), strings.NewReader("not an ogg stream at all"), &sampleRecorder{})
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestResamplerPassthrough(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7}
	r, err := NewResampler(bytes.NewReader(src), 24000, 24000)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src[:6]) {
		t.Fatalf("got %v, want %v", got, src[:6])
	}
}

func TestResamplerDownsample(t *testing.T) {
	src := make([]byte, 2*4800)
	for i := 0; i < 4800; i++ {
		v := int16((i % 100) * 100)
		src[2*i] = byte(v)
		src[2*i+1] = byte(v >> 8)
	}
	r, err := NewResampler(bytes.NewReader(src), 48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var total int
	buf := make([]byte, 640)
	for range 1000 {
		n, err := r.Read(buf)
		if n%2 != 0 {
			t.Fatalf("odd read of %d bytes", n)
		}
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if total > 2*1600+256 {
		t.Fatalf("resampled %d bytes from 4800 samples", total)
	}
}

func TestNewResamplerRejectsInvalidRate(t *testing.T) {
	if _, err := NewResampler(bytes.NewReader(nil), 0, 16000); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlayerFile(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "played")
	script := writeScript(t, "player.sh", "#!/bin/sh\necho \"$@\" > "+marker+"\n")
	p := &Player{Command: []string{script, "-q"}}
	if err := p.PlayFile(context.Background(), "cue.wav"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(got)) != "-q cue.wav" {
		t.Fatalf("player args = %q", got)
	}
}

func TestPlayerPipe(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	script := writeScript(t, "sink.sh", "#!/bin/sh\ncat > "+out+"\n")
	p := &Player{Command: []string{script}}
	w, err := p.Pipe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "audio")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(out)
	if string(got) != "audio" {
		t.Fatalf("piped %q", got)
	}
}
