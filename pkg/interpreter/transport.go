package interpreter

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/kronktech/sully/pkg/media"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
)

// Dialer opens a realtime connection with the microphone attached.
//
// A failed Dial returns a *ConnectError naming the microphone or offer step
// and has released everything it acquired. Closing the returned Conn also
// stops the local media.
type Dialer interface {
	Dial(ctx context.Context, secret string) (openairealtime.Conn, error)
}

// Microphone starts a capture in the requested encoding.
type Microphone interface {
	Start(ctx context.Context, enc media.Encoding) (*media.Capture, error)
}

// AudioOutput opens a sink for the model's voice.
type AudioOutput func(ctx context.Context) (io.WriteCloser, error)

// WebRTCDialer connects over WebRTC. The microphone is sent as an Opus track
// and the model's audio track is written to Output as Ogg/Opus.
type WebRTCDialer struct {
	Client     *openairealtime.Client
	Model      string
	Microphone Microphone
	// Output receives the model's voice. When nil the audio is dropped.
	Output AudioOutput
	Logger *slog.Logger
}

func (d *WebRTCDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dial implements Dialer.
func (d *WebRTCDialer) Dial(ctx context.Context, secret string) (openairealtime.Conn, error) {
	track, err := media.NewMicTrack()
	if err != nil {
		return nil, &ConnectError{Step: StepMicrophone, Err: err}
	}

	// Media outlives the dial attempt; it is stopped by Conn.Close.
	mediaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	capture, err := d.Microphone.Start(mediaCtx, media.EncodingOpus)
	if err != nil {
		cancel()
		return nil, &ConnectError{Step: StepMicrophone, Err: err}
	}

	mc := &mediaConn{cancel: cancel, closers: []io.Closer{capture}, logger: d.logger()}
	conn, err := d.Client.DialWebRTC(ctx, secret, &openairealtime.DialConfig{
		Model:      d.Model,
		AudioTrack: track,
		OnRemoteTrack: func(remote *webrtc.TrackRemote) {
			d.playRemote(mediaCtx, mc, remote)
		},
	})
	if err != nil {
		mc.closeMedia()
		return nil, &ConnectError{Step: StepOffer, Err: err}
	}
	mc.Conn = conn

	go func() {
		if err := media.PumpOgg(mediaCtx, capture, track); err != nil {
			d.logger().Warn("interpreter: microphone stream ended", "err", err)
		}
	}()
	return mc, nil
}

func (d *WebRTCDialer) playRemote(ctx context.Context, mc *mediaConn, remote *webrtc.TrackRemote) {
	if d.Output == nil {
		return
	}
	out, err := d.Output(ctx)
	if err != nil {
		d.logger().Warn("interpreter: open audio output", "err", err)
		return
	}
	sink, err := media.NewSink(out, d.logger())
	if err != nil {
		out.Close()
		d.logger().Warn("interpreter: open audio sink", "err", err)
		return
	}
	if !mc.adopt(sink) {
		sink.Close()
		return
	}
	go sink.Consume(remote)
}

// RealtimeSampleRate is the PCM rate of the websocket transport.
const RealtimeSampleRate = 24000

// pcmChunk is 100ms of 24 kHz 16-bit mono audio.
const pcmChunk = RealtimeSampleRate * 2 / 10

// WebSocketDialer connects over the websocket endpoint. Microphone PCM is
// resampled to 24 kHz and streamed as input_audio_buffer.append events; the
// model's PCM is written to Output.
type WebSocketDialer struct {
	Client     *openairealtime.Client
	Model      string
	Microphone Microphone
	// Output receives the model's voice as 24 kHz 16-bit mono PCM. When nil
	// the audio is dropped.
	Output AudioOutput
	Logger *slog.Logger
}

func (d *WebSocketDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, secret string) (openairealtime.Conn, error) {
	mediaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	capture, err := d.Microphone.Start(mediaCtx, media.EncodingPCM)
	if err != nil {
		cancel()
		return nil, &ConnectError{Step: StepMicrophone, Err: err}
	}
	pcm, err := media.NewResampler(capture, media.CaptureSampleRate, RealtimeSampleRate)
	if err != nil {
		capture.Close()
		cancel()
		return nil, &ConnectError{Step: StepMicrophone, Err: err}
	}

	mc := &mediaConn{cancel: cancel, closers: []io.Closer{pcm}, logger: d.logger()}
	conn, err := d.Client.DialWebSocket(ctx, secret, &openairealtime.DialConfig{Model: d.Model})
	if err != nil {
		mc.closeMedia()
		return nil, &ConnectError{Step: StepOffer, Err: err}
	}
	mc.Conn = conn

	if d.Output != nil {
		out, err := d.Output(mediaCtx)
		if err != nil {
			d.logger().Warn("interpreter: open audio output", "err", err)
		} else if !mc.adopt(out) {
			out.Close()
		} else {
			mc.audio = out
		}
	}

	go d.pump(mediaCtx, conn, pcm)
	return mc, nil
}

func (d *WebSocketDialer) pump(ctx context.Context, conn openairealtime.Conn, r io.Reader) {
	buf := make([]byte, pcmChunk)
	for ctx.Err() == nil {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if serr := conn.Send(openairealtime.InputAudioBufferAppendEvent(buf[:n])); serr != nil {
				if !errors.Is(serr, openairealtime.ErrNotOpen) {
					d.logger().Warn("interpreter: send audio", "err", serr)
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				d.logger().Warn("interpreter: microphone stream ended", "err", err)
			}
			return
		}
	}
}

// mediaConn is a realtime connection bundled with the local media feeding
// it. Close stops the media after the connection.
type mediaConn struct {
	openairealtime.Conn
	cancel context.CancelFunc
	logger *slog.Logger

	// audio receives response.audio.delta payloads (websocket only).
	audio io.Writer

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

// adopt registers c to be closed with the connection. It reports false when
// the connection is already closed.
func (m *mediaConn) adopt(c io.Closer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closers = append(m.closers, c)
	return true
}

func (m *mediaConn) Events() iter.Seq2[*openairealtime.ServerEvent, error] {
	events := m.Conn.Events()
	if m.audio == nil {
		return events
	}
	return func(yield func(*openairealtime.ServerEvent, error) bool) {
		for ev, err := range events {
			if err == nil && ev.Type == openairealtime.EventTypeResponseAudioDelta && len(ev.Audio) > 0 {
				if _, werr := m.audio.Write(ev.Audio); werr != nil {
					m.logger.Debug("interpreter: write model audio", "err", werr)
				}
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

func (m *mediaConn) Close() error {
	var err error
	if m.Conn != nil {
		err = m.Conn.Close()
	}
	m.closeMedia()
	return err
}

func (m *mediaConn) closeMedia() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	for _, c := range closers {
		if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			m.logger.Debug("interpreter: release media", "err", err)
		}
	}
	m.cancel()
}
