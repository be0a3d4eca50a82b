// Package transport exposes the HTTP/RPC surface every other component
// is wired behind: capability handshake, the ACK Kernel's command set,
// the TermBridge Orchestrator's terminal operations, and a direct
// journal-append endpoint used by the PTY Proxy's control-plane path.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shelldone/agentd/internal/ack"
	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/termbridge"
)

// DefaultRequestIDCacheSize bounds how many recent request_id -> response
// pairs the idempotency cache retains before evicting the oldest.
const DefaultRequestIDCacheSize = 1024

// Server binds the daemon's collaborators to the HTTP surface described
// by the handshake/ack/termbridge/journal endpoint set.
type Server struct {
	negotiator *capability.Negotiator
	issuer     *capability.TokenIssuer
	kernel     *ack.Kernel
	bridge     *termbridge.Orchestrator
	journal    *journal.Journal

	socketPath  string
	addr        string
	requireAuth bool

	mu       sync.Mutex
	sessions map[string]*capability.Session

	idemMu    sync.Mutex
	idemOrder []string
	idemCache map[string]cachedResponse

	startedAt time.Time
}

type cachedResponse struct {
	status int
	body   json.RawMessage
}

// NewServer wires a Server over its collaborators. Exactly one of
// socketPath or addr should be set; socketPath takes precedence,
// matching a Unix-domain-socket-first deployment with a loopback TCP
// fallback for clients that cannot dial Unix sockets (e.g. some
// container runtimes).
func NewServer(negotiator *capability.Negotiator, issuer *capability.TokenIssuer, kernel *ack.Kernel, bridge *termbridge.Orchestrator, j *journal.Journal, socketPath, addr string, requireAuth bool) *Server {
	return &Server{
		negotiator:  negotiator,
		issuer:      issuer,
		kernel:      kernel,
		bridge:      bridge,
		journal:     j,
		socketPath:  socketPath,
		addr:        addr,
		requireAuth: requireAuth,
		sessions:    map[string]*capability.Session{},
		idemCache:   map[string]cachedResponse{},
		startedAt:   time.Now().UTC(),
	}
}

// ListenAndServe blocks serving the HTTP surface until ctx is canceled,
// then drains in-flight requests with a bounded grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		if s.socketPath != "" {
			os.Remove(s.socketPath)
		}
		return nil
	case err := <-errCh:
		if s.socketPath != "" {
			os.Remove(s.socketPath)
		}
		return err
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.socketPath != "" {
		os.Remove(s.socketPath)
		ln, err := net.Listen("unix", s.socketPath)
		if err != nil {
			return nil, fmt.Errorf("transport: listen unix %s: %w", s.socketPath, err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", s.addr, err)
	}
	return ln, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /sigma/handshake", s.handleHandshake)

	mux.HandleFunc("POST /ack/plan", s.auth(s.handleAckPlan))
	mux.HandleFunc("POST /ack/exec", s.auth(s.handleAckExec))
	mux.HandleFunc("POST /ack/form", s.auth(s.handleAckForm))
	mux.HandleFunc("POST /ack/undo", s.auth(s.handleAckUndo))
	mux.HandleFunc("POST /ack/guard", s.auth(s.handleAckGuard))
	mux.HandleFunc("POST /ack/journal", s.auth(s.handleAckJournal))
	mux.HandleFunc("POST /ack/inspect", s.auth(s.handleAckInspect))
	mux.HandleFunc("POST /ack/connect", s.auth(s.handleAckConnect))

	mux.HandleFunc("POST /termbridge/discover", s.auth(s.handleTermbridgeDiscover))
	mux.HandleFunc("POST /termbridge/spawn", s.auth(s.handleTermbridgeSpawn))
	mux.HandleFunc("POST /termbridge/focus", s.auth(s.handleTermbridgeFocus))
	mux.HandleFunc("POST /termbridge/send-text", s.auth(s.handleTermbridgeSendText))
	mux.HandleFunc("POST /termbridge/cwd", s.auth(s.handleTermbridgeCwd))
	mux.HandleFunc("POST /termbridge/clipboard/{op}", s.auth(s.handleTermbridgeClipboard))
	mux.HandleFunc("POST /termbridge/consent/{op}", s.auth(s.handleTermbridgeConsent))

	mux.HandleFunc("POST /journal/event", s.auth(s.handleJournalEvent))
}

// --- session bookkeeping ----------------------------------------------------

func (s *Server) putSession(sess *capability.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) getSession(id string) (*capability.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// --- auth middleware ---------------------------------------------------------

// auth wraps a handler with bearer-token verification bound to the
// request's session_id, skipped entirely when requireAuth is false (the
// default for a loopback-only Unix socket deployment).
func (s *Server) auth(next func(w http.ResponseWriter, r *http.Request, sess *capability.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			sessionID = r.Header.Get("X-Session-Id")
		}
		sess, ok := s.getSession(sessionID)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unknown or missing session_id")
			return
		}
		if s.requireAuth {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := s.issuer.Verify(token, sessionID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			sess.SetBearerClaims(claims)
		}
		next(w, r, sess)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// --- idempotency -------------------------------------------------------------

// idempotent checks the request_id cache before running fn, writing the
// cached byte-identical response on a replay instead of re-executing (and
// re-encoding the result of) a side-effecting command.
func (s *Server) idempotent(w http.ResponseWriter, requestID string, fn func() (int, any)) {
	if requestID == "" {
		status, v := fn()
		writeJSON(w, status, v)
		return
	}

	s.idemMu.Lock()
	if cached, ok := s.idemCache[requestID]; ok {
		s.idemMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.status)
		w.Write(cached.body)
		return
	}
	s.idemMu.Unlock()

	status, v := fn()
	body, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.idemMu.Lock()
	if len(s.idemOrder) >= DefaultRequestIDCacheSize {
		oldest := s.idemOrder[0]
		s.idemOrder = s.idemOrder[1:]
		delete(s.idemCache, oldest)
	}
	s.idemCache[requestID] = cachedResponse{status: status, body: body}
	s.idemOrder = append(s.idemOrder, requestID)
	s.idemMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// --- health and status --------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type StatusResponse struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	SessionCount   int     `json:"session_count"`
	JournalLastSeq uint64  `json:"journal_last_sequence"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sessionCount := len(s.sessions)
	s.mu.Unlock()
	var lastSeq uint64
	if s.journal != nil {
		lastSeq = s.journal.LastSequence()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		SessionCount:   sessionCount,
		JournalLastSeq: lastSeq,
	})
}

// --- handshake ---------------------------------------------------------------

type HandshakeRequest struct {
	Version      int              `json:"version"`
	Capabilities capability.Offer `json:"capabilities"`
	Persona      string           `json:"persona"`
}

type HandshakeResponse struct {
	SessionID string              `json:"session_id"`
	Persona   string              `json:"persona"`
	Manifest  capability.Manifest `json:"manifest"`
	Token     string              `json:"token,omitempty"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess, err := s.negotiator.Negotiate(capability.ManifestFromOffer(req.Capabilities), capability.Persona(req.Persona))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.putSession(sess)

	resp := HandshakeResponse{SessionID: sess.ID, Persona: string(sess.Persona), Manifest: sess.Manifest}
	if s.requireAuth && s.issuer != nil {
		token, exp, err := s.issuer.Issue(sess.ID, sess.Persona)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Token = token
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusCreated, resp)
}

// --- ack.* ---------------------------------------------------------------

// ExecRequest carries no isolation level: the ACK Kernel derives it from
// the session's persona ApprovalPolicy and the matched policy rules, per
// spec SPEC_FULL.md §4.6, so a client can never request a more permissive
// sandbox than its persona and the active policy allow.
type ExecRequest struct {
	RequestID       string            `json:"request_id,omitempty"`
	Command         string            `json:"command"`
	Env             map[string]string `json:"env,omitempty"`
	ApprovalGranted bool              `json:"approval_granted"`
}

func (s *Server) handleAckExec(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	s.idempotent(w, req.RequestID, func() (int, any) {
		result, err := s.kernel.Exec(r.Context(), sess, req.Command, req.Env, req.ApprovalGranted)
		if err != nil {
			return ackErrorResponse(err)
		}
		return http.StatusOK, result
	})
}

type UndoRequest struct {
	RequestID       string `json:"request_id,omitempty"`
	SnapshotID      string `json:"snapshot_id"`
	ApprovalGranted bool   `json:"approval_granted"`
}

func (s *Server) handleAckUndo(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req UndoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	s.idempotent(w, req.RequestID, func() (int, any) {
		result, err := s.kernel.Undo(r.Context(), sess, req.SnapshotID, req.ApprovalGranted)
		if err != nil {
			return ackErrorResponse(err)
		}
		return http.StatusOK, result
	})
}

type ackGuardRequest struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

func (s *Server) handleAckGuard(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req ackGuardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	result, err := s.kernel.Guard(r.Context(), sess, ack.GuardRequest{Command: req.Command, Reason: req.Reason})
	if err != nil {
		status, v := ackErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type JournalRequest struct {
	StartSeq uint64 `json:"start_seq"`
	EndSeq   uint64 `json:"end_seq"`
}

func (s *Server) handleAckJournal(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req JournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	events, err := s.kernel.Journal(r.Context(), req.StartSeq, req.EndSeq)
	if err != nil {
		status, v := ackErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type ackInspectRequest struct {
	Selector string `json:"selector"`
}

func (s *Server) handleAckInspect(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req ackInspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	result, err := s.kernel.Inspect(r.Context(), req.Selector)
	if err != nil {
		status, v := ackErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ackOrchestrationRequest struct {
	Accepted bool           `json:"accepted"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleAckPlan(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	s.handleOrchestration(w, r, sess, s.kernel.Plan)
}

func (s *Server) handleAckForm(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	s.handleOrchestration(w, r, sess, s.kernel.Form)
}

func (s *Server) handleAckConnect(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	s.handleOrchestration(w, r, sess, s.kernel.Connect)
}

func (s *Server) handleOrchestration(w http.ResponseWriter, r *http.Request, sess *capability.Session, fn func(context.Context, *capability.Session, bool, map[string]any) error) {
	var req ackOrchestrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := fn(r.Context(), sess, req.Accepted, req.Payload); err != nil {
		status, v := ackErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ackErrorResponse(err error) (int, any) {
	ae, ok := err.(*ack.Error)
	if !ok {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return ackStatusCode(ae.Kind), ae
}

func ackStatusCode(kind ack.Kind) int {
	switch kind {
	case ack.KindPolicyDenied:
		return http.StatusForbidden
	case ack.KindNotSupported:
		return http.StatusNotImplemented
	case ack.KindUnauthorized:
		return http.StatusUnauthorized
	case ack.KindTimeout:
		return http.StatusGatewayTimeout
	case ack.KindIntegrity:
		return http.StatusInternalServerError
	case ack.KindIo:
		return http.StatusServiceUnavailable
	case ack.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- termbridge.* ---------------------------------------------------------

func (s *Server) handleTermbridgeDiscover(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	capMap, diffs, err := s.bridge.Discover(r.Context())
	if err != nil {
		status, v := termbridgeErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability_map": capMap, "diffs": diffs})
}

type SpawnRequest struct {
	RequestID       string            `json:"request_id,omitempty"`
	Terminal        string            `json:"terminal"`
	Command         string            `json:"command"`
	Cwd             string            `json:"cwd"`
	Env             map[string]string `json:"env,omitempty"`
	ApprovalGranted bool              `json:"approval_granted"`
}

func (s *Server) handleTermbridgeSpawn(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	s.idempotent(w, req.RequestID, func() (int, any) {
		b, err := s.bridge.Spawn(r.Context(), req.Terminal, req.Command, req.Cwd, req.Env, req.ApprovalGranted)
		if err != nil {
			return termbridgeErrorResponse(err)
		}
		return http.StatusCreated, b
	})
}

type bindingRequest struct {
	BindingID string `json:"binding_id"`
}

func (s *Server) handleTermbridgeFocus(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req bindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.bridge.Focus(r.Context(), req.BindingID); err != nil {
		status, v := termbridgeErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type termbridgeSendTextRequest struct {
	BindingID         string `json:"binding_id"`
	Payload           string `json:"payload"`
	BracketedPaste    bool   `json:"bracketed_paste"`
	MaxClipboardBytes int    `json:"max_clipboard_bytes"`
	PersonaStrict     bool   `json:"persona_strict"`
	ApprovalGranted   bool   `json:"approval_granted"`
}

func (s *Server) handleTermbridgeSendText(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req termbridgeSendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	assessment, err := s.bridge.SendText(r.Context(), req.BindingID, req.Payload, req.BracketedPaste, req.MaxClipboardBytes, req.PersonaStrict, req.ApprovalGranted)
	if err != nil {
		status, v := termbridgeErrorResponse(err)
		if m, ok := v.(map[string]any); ok {
			m["assessment"] = assessment
		}
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "assessment": assessment})
}

type termbridgeCwdRequest struct {
	BindingID string `json:"binding_id"`
	Cwd       string `json:"cwd"`
}

func (s *Server) handleTermbridgeCwd(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req termbridgeCwdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.bridge.UpdateCwd(r.Context(), req.BindingID, req.Cwd); err != nil {
		status, v := termbridgeErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type termbridgeClipboardRequest struct {
	BindingID string `json:"binding_id"`
	Channel   string `json:"channel"`
	Payload   string `json:"payload,omitempty"`
}

func (s *Server) handleTermbridgeClipboard(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	op := r.PathValue("op")
	var req termbridgeClipboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	switch op {
	case "read":
		payload, err := s.bridge.ClipboardRead(r.Context(), req.BindingID, req.Channel)
		if err != nil {
			status, v := termbridgeErrorResponse(err)
			writeJSON(w, status, v)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"payload": payload})
	case "write":
		if err := s.bridge.ClipboardWrite(r.Context(), req.BindingID, req.Channel, req.Payload); err != nil {
			status, v := termbridgeErrorResponse(err)
			writeJSON(w, status, v)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeError(w, http.StatusNotFound, "unknown clipboard operation "+op)
	}
}

func (s *Server) handleTermbridgeConsent(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	op := r.PathValue("op")
	var req bindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	var err error
	switch op {
	case "grant":
		err = s.bridge.GrantConsent(r.Context(), req.BindingID)
	case "revoke":
		err = s.bridge.RevokeConsent(r.Context(), req.BindingID)
	default:
		writeError(w, http.StatusNotFound, "unknown consent operation "+op)
		return
	}
	if err != nil {
		status, v := termbridgeErrorResponse(err)
		writeJSON(w, status, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func termbridgeErrorResponse(err error) (int, any) {
	te, ok := err.(*termbridge.Error)
	if !ok {
		return http.StatusInternalServerError, map[string]any{"error": err.Error()}
	}
	return termbridgeStatusCode(te.Kind), map[string]any{"kind": string(te.Kind), "error": te.Msg}
}

func termbridgeStatusCode(kind termbridge.Kind) int {
	switch kind {
	case termbridge.KindPolicyDenied:
		return http.StatusForbidden
	case termbridge.KindNotSupported:
		return http.StatusNotImplemented
	case termbridge.KindUnauthorized:
		return http.StatusUnauthorized
	case termbridge.KindTimeout:
		return http.StatusGatewayTimeout
	case termbridge.KindIo:
		return http.StatusServiceUnavailable
	case termbridge.KindBusy:
		return http.StatusServiceUnavailable
	case termbridge.KindConfirmationRequired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// --- journal.event ---------------------------------------------------------

type journalEventRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleJournalEvent(w http.ResponseWriter, r *http.Request, sess *capability.Session) {
	var req journalEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := s.journal.Append(journal.EventBody{
		Kind:      req.Kind,
		Persona:   string(sess.Persona),
		SessionID: sess.ID,
		Payload:   req.Payload,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// --- helpers -----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
