package openairealtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/pion/webrtc/v3"
)

// DataChannelLabel is the label of the event data channel.
const DataChannelLabel = "oai-events"

// DialConfig configures a realtime connection.
type DialConfig struct {
	// Model is the model ID. Default: gpt-4o-realtime-preview.
	Model string

	// AudioTrack is the local microphone track (WebRTC only). When nil the
	// connection only receives audio.
	AudioTrack webrtc.TrackLocal

	// OnRemoteTrack is called when the model's audio track arrives
	// (WebRTC only).
	OnRemoteTrack func(*webrtc.TrackRemote)
}

func (cfg *DialConfig) model() string {
	if cfg == nil || cfg.Model == "" {
		return ModelGPT4oRealtimePreview
	}
	return cfg.Model
}

// WebRTCConn is a Conn over a WebRTC peer connection.
type WebRTCConn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	client *Client
	events *eventQueue

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// DialWebRTC negotiates a WebRTC connection using an ephemeral secret.
//
// It returns once the SDP answer has been applied; the event channel opens
// asynchronously and Ready is closed when it does. On any error every
// partially created resource is released.
func (c *Client) DialWebRTC(ctx context.Context, secret string, cfg *DialConfig) (*WebRTCConn, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.iceServers})
	if err != nil {
		return nil, fmt.Errorf("openai-realtime: create peer connection: %w", err)
	}
	conn := &WebRTCConn{
		pc:     pc,
		client: c,
		events: newEventQueue(c.logger),
		ready:  make(chan struct{}),
	}
	if err := conn.negotiate(ctx, secret, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (conn *WebRTCConn) negotiate(ctx context.Context, secret string, cfg *DialConfig) error {
	pc := conn.pc
	if cfg != nil && cfg.AudioTrack != nil {
		if _, err := pc.AddTrack(cfg.AudioTrack); err != nil {
			return fmt.Errorf("openai-realtime: add audio track: %w", err)
		}
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("openai-realtime: add audio transceiver: %w", err)
		}
	}

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("openai-realtime: create data channel: %w", err)
	}
	conn.dc = dc
	dc.OnOpen(func() {
		conn.client.logger.Debug("openai-realtime: data channel open")
		conn.readyOnce.Do(func() { close(conn.ready) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		conn.events.pushMessage(msg.Data)
	})
	dc.OnClose(func() {
		conn.client.logger.Debug("openai-realtime: data channel closed")
		conn.events.close()
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		conn.client.logger.Debug("openai-realtime: remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeAudio && cfg != nil && cfg.OnRemoteTrack != nil {
			cfg.OnRemoteTrack(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		conn.client.logger.Debug("openai-realtime: peer connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			conn.events.close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("openai-realtime: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("openai-realtime: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := conn.client.exchangeSDP(ctx, secret, cfg.model(), pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("openai-realtime: set remote description: %w", err)
	}
	return nil
}

// exchangeSDP posts the offer and returns the answer SDP.
func (c *Client) exchangeSDP(ctx context.Context, secret, model, sdp string) (string, error) {
	u := c.httpURL + "?model=" + url.QueryEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader([]byte(sdp)))
	if err != nil {
		return "", err
	}
	c.setAuth(req.Header, secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai-realtime: sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", responseError(resp, "sdp_exchange_failed")
	}
	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai-realtime: read sdp answer: %w", err)
	}
	return string(answer), nil
}

// Send transmits ev over the data channel.
func (conn *WebRTCConn) Send(ev *ClientEvent) error {
	if conn.dc == nil || conn.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("openai-realtime: encode %s: %w", ev.Type, err)
	}
	conn.client.logger.Debug("openai-realtime: sending", "type", ev.Type, "event_id", ev.EventID)
	return conn.dc.Send(data)
}

// Events yields server events in arrival order.
func (conn *WebRTCConn) Events() iter.Seq2[*ServerEvent, error] {
	return conn.events.seq()
}

// Ready is closed once the data channel is open.
func (conn *WebRTCConn) Ready() <-chan struct{} {
	return conn.ready
}

// Close closes the data channel, stops every local sender and closes the
// peer connection.
func (conn *WebRTCConn) Close() error {
	conn.closeOnce.Do(func() {
		conn.events.close()
		if conn.dc != nil {
			conn.dc.Close()
		}
		for _, sender := range conn.pc.GetSenders() {
			if sender.Track() != nil {
				sender.Stop()
			}
		}
		conn.closeErr = conn.pc.Close()
	})
	return conn.closeErr
}

var _ Conn = (*WebRTCConn)(nil)
