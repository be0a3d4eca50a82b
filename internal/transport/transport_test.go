package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shelldone/agentd/internal/ack"
	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/policy"
	"github.com/shelldone/agentd/internal/snapshot"
	"github.com/shelldone/agentd/internal/termbridge"
)

type fakeAdapter struct {
	terminal  string
	supported bool
	sent      []string
}

func (f *fakeAdapter) Probe(ctx context.Context) (termbridge.TerminalCapability, bool) {
	return termbridge.TerminalCapability{Terminal: f.terminal, Spawn: true, SendText: true}, f.supported
}
func (f *fakeAdapter) Spawn(ctx context.Context, b *termbridge.TerminalBinding, command, cwd string, env map[string]string) error {
	return nil
}
func (f *fakeAdapter) Focus(ctx context.Context, b *termbridge.TerminalBinding) error { return nil }
func (f *fakeAdapter) SendText(ctx context.Context, b *termbridge.TerminalBinding, payload string) error {
	f.sent = append(f.sent, payload)
	return nil
}
func (f *fakeAdapter) UpdateCwd(ctx context.Context, b *termbridge.TerminalBinding, cwd string) error {
	return nil
}
func (f *fakeAdapter) Close(ctx context.Context, b *termbridge.TerminalBinding) error { return nil }
func (f *fakeAdapter) ClipboardRead(ctx context.Context, b *termbridge.TerminalBinding, channel string) (string, error) {
	return "clipboard-contents", nil
}
func (f *fakeAdapter) ClipboardWrite(ctx context.Context, b *termbridge.TerminalBinding, channel, payload string) error {
	return nil
}

// testServer wires a full Server over an in-memory journal and a
// deny-list-free policy engine, listening on a Unix socket under t.TempDir.
func testServer(t *testing.T, requireAuth bool) (*Server, string, *policy.Engine) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(dir, 0)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	pol := policy.NewEngine()
	snap, err := snapshot.Open(filepath.Join(dir, "snapshots"), j)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	exec := ack.NewExecutor(nil)
	kernel := ack.NewKernel(j, pol, snap, exec)

	adapter := &fakeAdapter{terminal: "kitty", supported: true}
	bridge := termbridge.NewOrchestrator(pol, j, map[string]termbridge.Adapter{"kitty": adapter})

	negotiator := capability.NewNegotiator(capability.DefaultServerManifest(), capability.DefaultProfileSet())
	negotiator.OnEvent(func(kind string, payload map[string]any) {
		j.Append(journal.EventBody{Kind: kind, Payload: payload})
	})

	key, err := capability.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	issuer := capability.NewTokenIssuer(key, time.Hour)

	socketPath := filepath.Join(dir, "agentd.sock")
	srv := NewServer(negotiator, issuer, kernel, bridge, j, socketPath, "", requireAuth)
	return srv, socketPath, pol
}

func startTestServer(t *testing.T, srv *Server, socketPath string) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := NewClient(socketPath)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.Healthz(); err == nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never became healthy")
	return nil
}

func TestHandshakeThenExecDeniedByPolicyMapsTo403(t *testing.T) {
	srv, socketPath, pol := testServer(t, false)
	c := startTestServer(t, srv, socketPath)

	if err := pol.Reload([]policy.Rule{
		{ID: "deny-all-exec", When: policy.Conditions{Command: []string{"ack.exec"}}, DenyReason: "test_deny"},
	}); err != nil {
		t.Fatalf("reload policy: %v", err)
	}

	hr, err := c.Handshake(capability.OfferFromManifest(capability.DefaultServerManifest()), "nova")
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if hr.SessionID == "" {
		t.Fatal("expected a session id from handshake")
	}

	_, err = c.Exec(ExecRequest{Command: "echo hi"})
	if err == nil {
		t.Fatal("expected the policy-denied exec to surface as an error")
	}
	if !strings.Contains(err.Error(), "HTTP 403") {
		t.Fatalf("expected HTTP 403 for a PolicyDenied exec, got %v", err)
	}
}

func TestExecWithoutSessionIsUnauthorized(t *testing.T) {
	srv, socketPath, _ := testServer(t, false)
	c := startTestServer(t, srv, socketPath)

	_, err := c.Exec(ExecRequest{Command: "echo hi"})
	if err == nil {
		t.Fatal("expected an error calling exec without a prior handshake")
	}
	var httpErr interface{ Error() string }
	if !errors.As(err, &httpErr) {
		t.Fatalf("unexpected error type: %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Fatalf("expected HTTP 401 for an exec without a session, got %v", err)
	}
}

func TestAckErrorResponseMapsPolicyDeniedTo403(t *testing.T) {
	status, _ := ackErrorResponse(&ack.Error{Kind: ack.KindPolicyDenied})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	status, _ = ackErrorResponse(&ack.Error{Kind: ack.KindNotSupported})
	if status != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", status)
	}
	status, _ = ackErrorResponse(&ack.Error{Kind: ack.KindTimeout})
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", status)
	}
}

func TestTermbridgeErrorResponseMapsConfirmationRequiredTo409(t *testing.T) {
	status, v := termbridgeErrorResponse(&termbridge.Error{Kind: termbridge.KindConfirmationRequired, Msg: "paste requires confirmation"})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	m, ok := v.(map[string]any)
	if !ok || m["kind"] != "ConfirmationRequired" {
		t.Fatalf("unexpected response body: %+v", v)
	}
}

func TestTermbridgeDiscoverAndSpawnAndClipboardRoundTrip(t *testing.T) {
	srv, socketPath, _ := testServer(t, false)
	c := startTestServer(t, srv, socketPath)

	if _, err := c.Handshake(capability.OfferFromManifest(capability.DefaultServerManifest()), "nova"); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	discovered, err := c.TermbridgeDiscover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if discovered["capability_map"] == nil {
		t.Fatal("expected a capability_map in the discover response")
	}

	raw, err := c.TermbridgeSpawn(SpawnRequest{Terminal: "kitty", Command: "bash", Cwd: "/tmp"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	var binding struct {
		BindingID string `json:"BindingID"`
	}
	if err := json.Unmarshal(raw, &binding); err != nil {
		t.Fatalf("decode spawn response: %v", err)
	}
	if binding.BindingID == "" {
		t.Fatal("expected a non-empty binding id")
	}
}

func TestIdempotentRequestIDSkipsReExecutingOnRetry(t *testing.T) {
	srv, socketPath, pol := testServer(t, false)
	c := startTestServer(t, srv, socketPath)

	if err := pol.Reload([]policy.Rule{
		{ID: "deny-all-exec", When: policy.Conditions{Command: []string{"ack.exec"}}, DenyReason: "test_deny"},
	}); err != nil {
		t.Fatalf("reload policy: %v", err)
	}
	if _, err := c.Handshake(capability.OfferFromManifest(capability.DefaultServerManifest()), "nova"); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	req := ExecRequest{RequestID: "req-1", Command: "echo hi"}
	_, firstErr := c.Exec(req)
	_, secondErr := c.Exec(req)
	if firstErr == nil || secondErr == nil {
		t.Fatal("expected both calls to surface the cached policy-denied error")
	}
	if firstErr.Error() != secondErr.Error() {
		t.Fatalf("expected the second call to replay the cached response verbatim, got %q and %q", firstErr, secondErr)
	}

	events, err := srv.journal.Range(1, 100)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	denials := 0
	for _, e := range events {
		if e.Kind == "policy.denied" {
			denials++
		}
	}
	if denials != 1 {
		t.Fatalf("expected exactly one policy.denied event despite two identical requests, got %d", denials)
	}
}

func TestHealthzAndStatus(t *testing.T) {
	srv, socketPath, _ := testServer(t, false)
	c := startTestServer(t, srv, socketPath)

	if err := c.Healthz(); err != nil {
		t.Fatalf("healthz: %v", err)
	}
	status, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UptimeSeconds < 0 {
		t.Fatalf("unexpected uptime %v", status.UptimeSeconds)
	}
}
