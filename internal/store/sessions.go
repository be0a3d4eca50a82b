package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is the durable row backing a capability.Session, kept so
// a daemon restart can report which sessions were open at crash time
// without replaying the full event journal.
type SessionRecord struct {
	ID           string
	Persona      string
	ManifestJSON string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	ClosedAt     *time.Time
}

func (s *Store) UpsertSession(r *SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, persona, manifest_json, created_at, last_seen_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			persona = excluded.persona,
			manifest_json = excluded.manifest_json,
			last_seen_at = excluded.last_seen_at,
			closed_at = excluded.closed_at`,
		r.ID, r.Persona, r.ManifestJSON, r.CreatedAt.UTC(), r.LastSeenAt.UTC(), r.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*SessionRecord, error) {
	r := &SessionRecord{}
	err := s.db.QueryRow(`SELECT id, persona, manifest_json, created_at, last_seen_at, closed_at
		FROM sessions WHERE id = ?`, id).Scan(
		&r.ID, &r.Persona, &r.ManifestJSON, &r.CreatedAt, &r.LastSeenAt, &r.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

// ListOpenSessions returns every session row with a NULL closed_at,
// i.e. sessions the daemon believed were live when it last exited.
func (s *Store) ListOpenSessions() ([]*SessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, persona, manifest_json, created_at, last_seen_at, closed_at
		FROM sessions WHERE closed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()
	var out []*SessionRecord
	for rows.Next() {
		r := &SessionRecord{}
		if err := rows.Scan(&r.ID, &r.Persona, &r.ManifestJSON, &r.CreatedAt, &r.LastSeenAt, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CloseSession stamps closed_at, used both on a clean session teardown
// and, at startup, to close out sessions abandoned by a prior crash.
func (s *Store) CloseSession(id string, closedAt time.Time) error {
	_, err := s.db.Exec("UPDATE sessions SET closed_at = ? WHERE id = ?", closedAt.UTC(), id)
	return err
}

// TouchSession advances last_seen_at for the session row id.
func (s *Store) TouchSession(id string, at time.Time) error {
	_, err := s.db.Exec("UPDATE sessions SET last_seen_at = ? WHERE id = ?", at.UTC(), id)
	return err
}
