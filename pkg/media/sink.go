package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

// Sink writes remote Opus RTP into an Ogg stream, typically the stdin of an
// audio player.
type Sink struct {
	out    io.WriteCloser
	writer *oggwriter.OggWriter
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewSink wraps out. The sink owns out and closes it on Close.
func NewSink(out io.WriteCloser, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := oggwriter.NewWith(out, opusClockRate, 2)
	if err != nil {
		return nil, fmt.Errorf("media: create ogg writer: %w", err)
	}
	return &Sink{out: out, writer: w, logger: logger}, nil
}

// WriteRTP appends one packet. Empty payloads are skipped.
func (s *Sink) WriteRTP(p *rtp.Packet) error {
	if len(p.Payload) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.writer.WriteRTP(p)
}

// Consume reads track until it ends. It is meant to run as the remote track
// handler of a realtime connection.
func (s *Sink) Consume(track *webrtc.TrackRemote) {
	s.logger.Debug("media: remote track", "codec", track.Codec().MimeType)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("media: remote track ended", "err", err)
			}
			return
		}
		if err := s.WriteRTP(pkt); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Warn("media: write remote audio", "err", err)
			}
			return
		}
	}
}

// Close finalizes the Ogg stream.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
