// Package openairealtime is a transport for OpenAI's Realtime API.
//
// A Conn carries JSON events in both directions, either over a WebRTC data
// channel (with the microphone attached as a local audio track) or over a
// WebSocket (with audio appended to the input buffer as base64 PCM).
//
// WebRTC connections authenticate with an ephemeral client secret minted by
// CreateSession, usually on a backend that holds the API key:
//
//	client := openairealtime.NewClient()
//	conn, err := client.DialWebRTC(ctx, secret, &openairealtime.DialConfig{
//	    Model:      openairealtime.ModelGPT4oRealtimePreview20241217,
//	    AudioTrack: micTrack,
//	})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	<-conn.Ready()
//
// Events are consumed in arrival order:
//
//	for ev, err := range conn.Events() {
//	    if err != nil {
//	        return err
//	    }
//	    switch ev.Type {
//	    case openairealtime.EventTypeConversationItemInputAudioTranscriptionCompleted:
//	        fmt.Println(ev.Transcript)
//	    }
//	}
package openairealtime
