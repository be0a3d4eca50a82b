package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shelldone/agentd/internal/ack"
	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/journal"
)

// Client is a thin HTTP client for agentd's Unix-domain-socket RPC
// surface, used by cmd/agentctl and by in-process callers that prefer a
// transport-level contract over importing the daemon's packages directly.
type Client struct {
	http      *http.Client
	baseURL   string
	sessionID string
	token     string
}

// NewClient dials socketPath for every request regardless of the URL
// host, matching a Unix-socket transport's standard HTTP-over-UDS idiom.
func NewClient(socketPath string) *Client {
	return &Client{
		baseURL: "http://agentd",
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					d := net.Dialer{}
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// NewTCPClient dials addr over TCP, for deployments where a Unix socket
// isn't reachable.
func NewTCPClient(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Authenticate stores the session and bearer token subsequent calls
// attach, set from the result of Handshake.
func (c *Client) Authenticate(sessionID, token string) {
	c.sessionID = sessionID
	c.token = token
}

func (c *Client) Handshake(offer capability.Offer, persona string) (*HandshakeResponse, error) {
	body, err := json.Marshal(HandshakeRequest{Version: 1, Capabilities: offer, Persona: persona})
	if err != nil {
		return nil, err
	}
	resp, err := c.post("/sigma/handshake", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	var hr HandshakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("transport: decode handshake response: %w", err)
	}
	c.Authenticate(hr.SessionID, hr.Token)
	return &hr, nil
}

func (c *Client) Exec(req ExecRequest) (*ack.ExecResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.post("/ack/exec", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var result ack.ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("transport: decode exec response: %w", err)
	}
	return &result, nil
}

func (c *Client) Undo(req UndoRequest) (*ack.UndoResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.post("/ack/undo", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var result ack.UndoResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("transport: decode undo response: %w", err)
	}
	return &result, nil
}

func (c *Client) Journal(startSeq, endSeq uint64) ([]journal.EventRecord, error) {
	body, err := json.Marshal(JournalRequest{StartSeq: startSeq, EndSeq: endSeq})
	if err != nil {
		return nil, err
	}
	resp, err := c.post("/ack/journal", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var events []journal.EventRecord
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("transport: decode journal response: %w", err)
	}
	return events, nil
}

func (c *Client) TermbridgeDiscover() (map[string]any, error) {
	resp, err := c.post("/termbridge/discover", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("transport: decode discover response: %w", err)
	}
	return result, nil
}

func (c *Client) TermbridgeSpawn(req SpawnRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.post("/termbridge/spawn", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.get("/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var s StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("transport: decode status response: %w", err)
	}
	return &s, nil
}

func (c *Client) Healthz() error {
	resp, err := c.get("/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// --- HTTP helpers -----------------------------------------------------------

func (c *Client) withSession(path string) string {
	if c.sessionID == "" {
		return path
	}
	sep := "?"
	if bytes.ContainsRune([]byte(path), '?') {
		sep = "&"
	}
	return path + sep + "session_id=" + c.sessionID
}

func (c *Client) newRequest(method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+c.withSession(path), r)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) get(path string) (*http.Response, error) {
	req, err := c.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) post(path string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}
