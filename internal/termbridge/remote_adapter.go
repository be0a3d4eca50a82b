package termbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pion/webrtc/v4"
)

// remoteMessage mirrors the pty.migrate/pty.migrated/pty.fallback wire
// trio, repurposed here from PTY session migration to TermBridge command
// routing over either transport.
type remoteMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RemoteAdapter routes TermBridge operations to an SDK bridge process,
// preferring a P2P WebRTC DataChannel and falling back to a WebSocket
// control channel when ICE negotiation fails or times out.
type RemoteAdapter struct {
	Terminal string

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	ws      *websocket.Conn
	onUsingFallback func()
}

// NewRemoteAdapter constructs a RemoteAdapter for the named terminal,
// with no transport connected yet.
func NewRemoteAdapter(terminal string) *RemoteAdapter {
	return &RemoteAdapter{Terminal: terminal}
}

// ConnectP2P attempts to establish the WebRTC DataChannel within timeout,
// falling back to a WebSocket control channel dial on failure — mirroring
// the pty.migrate / pty.migrated / pty.fallback message trio.
func (a *RemoteAdapter) ConnectP2P(ctx context.Context, offer webrtc.SessionDescription, wsURL string, timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return a.fallbackLocked(ctx, wsURL, fmt.Errorf("termbridge: new peer connection: %w", err))
	}
	connected := make(chan struct{})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			close(connected)
		}
	})
	if err := pc.SetRemoteDescription(offer); err != nil {
		return a.fallbackLocked(ctx, wsURL, fmt.Errorf("termbridge: set remote description: %w", err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return a.fallbackLocked(ctx, wsURL, fmt.Errorf("termbridge: create answer: %w", err))
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return a.fallbackLocked(ctx, wsURL, fmt.Errorf("termbridge: set local description: %w", err))
	}

	select {
	case <-connected:
		a.pc = pc
		return nil
	case <-pcCtx.Done():
		pc.Close()
		return a.fallbackLocked(ctx, wsURL, fmt.Errorf("termbridge: webrtc negotiation timed out"))
	}
}

func (a *RemoteAdapter) fallbackLocked(ctx context.Context, wsURL string, cause error) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return &Error{Kind: KindIo, Msg: fmt.Sprintf("p2p failed (%v) and websocket fallback failed: %v", cause, err)}
	}
	a.ws = conn
	if a.onUsingFallback != nil {
		a.onUsingFallback()
	}
	return nil
}

// OnUsingFallback registers a callback invoked when ConnectP2P falls back
// to the WebSocket transport, so the caller can journal pty.fallback.
func (a *RemoteAdapter) OnUsingFallback(fn func()) {
	a.onUsingFallback = fn
}

func (a *RemoteAdapter) send(msg remoteMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		return &Error{Kind: KindIo, Msg: err.Error()}
	}
	if a.dc != nil {
		if err := a.dc.Send(data); err != nil {
			return &Error{Kind: KindIo, Msg: err.Error()}
		}
		return nil
	}
	if a.ws != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.ws.Write(ctx, websocket.MessageText, data); err != nil {
			return &Error{Kind: KindIo, Msg: err.Error()}
		}
		return nil
	}
	return &Error{Kind: KindIo, Msg: "termbridge: no transport connected"}
}

func (a *RemoteAdapter) Probe(ctx context.Context) (TerminalCapability, bool) {
	if err := a.send(remoteMessage{Type: "termbridge.probe"}); err != nil {
		return TerminalCapability{}, false
	}
	return TerminalCapability{Terminal: a.Terminal, Supported: true}, true
}

func (a *RemoteAdapter) Spawn(ctx context.Context, b *TerminalBinding, command string, cwd string, env map[string]string) error {
	payload, _ := json.Marshal(map[string]any{"binding_id": b.BindingID, "command": command, "cwd": cwd, "env": env})
	return a.send(remoteMessage{Type: "termbridge.spawn", Payload: payload})
}

func (a *RemoteAdapter) Focus(ctx context.Context, b *TerminalBinding) error {
	payload, _ := json.Marshal(map[string]any{"binding_id": b.BindingID})
	return a.send(remoteMessage{Type: "termbridge.focus", Payload: payload})
}

func (a *RemoteAdapter) SendText(ctx context.Context, b *TerminalBinding, text string) error {
	payload, _ := json.Marshal(map[string]any{"binding_id": b.BindingID, "text": text})
	return a.send(remoteMessage{Type: "termbridge.send_text", Payload: payload})
}

func (a *RemoteAdapter) UpdateCwd(ctx context.Context, b *TerminalBinding, cwd string) error {
	payload, _ := json.Marshal(map[string]any{"binding_id": b.BindingID, "cwd": cwd})
	b.CurrentDirectory = cwd
	return a.send(remoteMessage{Type: "termbridge.cwd", Payload: payload})
}

func (a *RemoteAdapter) Close(ctx context.Context, b *TerminalBinding) error {
	payload, _ := json.Marshal(map[string]any{"binding_id": b.BindingID})
	return a.send(remoteMessage{Type: "termbridge.close", Payload: payload})
}

func (a *RemoteAdapter) ClipboardRead(ctx context.Context, b *TerminalBinding, channel string) (string, error) {
	return "", notSupported("remote adapter clipboard read not yet wired to a response channel")
}

func (a *RemoteAdapter) ClipboardWrite(ctx context.Context, b *TerminalBinding, channel, payload string) error {
	data, _ := json.Marshal(map[string]any{"binding_id": b.BindingID, "channel": channel, "payload": payload})
	return a.send(remoteMessage{Type: "termbridge.clipboard.write", Payload: data})
}
