package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BindingRecord is the durable row backing a termbridge.TerminalBinding.
// The orchestrator's in-memory registry is authoritative while the
// daemon is running; this table exists so a restart can recognize and
// terminate bindings an external terminal process never heard a close
// for.
type BindingRecord struct {
	BindingID        string
	SessionID        string
	TerminalKind     string
	State            string
	Cwd              *string
	CreatedAt        time.Time
	ConsentGrantedAt *time.Time
	ClosedAt         *time.Time
}

func (s *Store) UpsertBinding(r *BindingRecord) error {
	_, err := s.db.Exec(`INSERT INTO terminal_bindings
			(binding_id, session_id, terminal_kind, state, cwd, created_at, consent_granted_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(binding_id) DO UPDATE SET
			state = excluded.state,
			cwd = excluded.cwd,
			consent_granted_at = excluded.consent_granted_at,
			closed_at = excluded.closed_at`,
		r.BindingID, r.SessionID, r.TerminalKind, r.State, r.Cwd, r.CreatedAt.UTC(), r.ConsentGrantedAt, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(bindingID string) (*BindingRecord, error) {
	r := &BindingRecord{}
	err := s.db.QueryRow(`SELECT binding_id, session_id, terminal_kind, state, cwd, created_at, consent_granted_at, closed_at
		FROM terminal_bindings WHERE binding_id = ?`, bindingID).Scan(
		&r.BindingID, &r.SessionID, &r.TerminalKind, &r.State, &r.Cwd, &r.CreatedAt, &r.ConsentGrantedAt, &r.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}
	return r, nil
}

// ListActiveBindings returns every binding row still open (closed_at
// IS NULL), i.e. the set a restarted daemon must reconcile against
// whatever terminal adapters actually report back from Discover.
func (s *Store) ListActiveBindings() ([]*BindingRecord, error) {
	rows, err := s.db.Query(`SELECT binding_id, session_id, terminal_kind, state, cwd, created_at, consent_granted_at, closed_at
		FROM terminal_bindings WHERE closed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active bindings: %w", err)
	}
	defer rows.Close()
	var out []*BindingRecord
	for rows.Next() {
		r := &BindingRecord{}
		if err := rows.Scan(&r.BindingID, &r.SessionID, &r.TerminalKind, &r.State, &r.Cwd, &r.CreatedAt, &r.ConsentGrantedAt, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CloseBinding stamps closed_at and the terminal state, used both for a
// clean binding close and, at startup, to mark bindings a prior crash
// left dangling as terminated.
func (s *Store) CloseBinding(bindingID, state string, closedAt time.Time) error {
	_, err := s.db.Exec("UPDATE terminal_bindings SET state = ?, closed_at = ? WHERE binding_id = ?", state, closedAt.UTC(), bindingID)
	return err
}
