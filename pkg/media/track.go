package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// opusClockRate is the granule rate of Ogg/Opus streams.
const opusClockRate = 48000

// NewMicTrack creates the local Opus track carrying the microphone.
func NewMicTrack() (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 1},
		"audio",
		"sully-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("media: create mic track: %w", err)
	}
	return track, nil
}

// SampleWriter receives Opus frames with their duration.
// *webrtc.TrackLocalStaticSample implements it.
type SampleWriter interface {
	WriteSample(s pionmedia.Sample) error
}

// PumpOgg reads Ogg/Opus pages from r and writes each one to w as a sample.
// It returns nil when r reaches EOF or ctx is done.
func PumpOgg(ctx context.Context, r io.Reader, w SampleWriter) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("media: read ogg header: %w", err)
	}

	var lastGranule uint64
	for ctx.Err() == nil {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("media: read ogg page: %w", err)
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		granule := header.GranulePosition
		duration := 20 * time.Millisecond
		if granule > lastGranule && lastGranule != 0 {
			duration = time.Duration(granule-lastGranule) * time.Second / opusClockRate
		}
		lastGranule = granule

		if err := w.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("media: write sample: %w", err)
		}
	}
	return nil
}
