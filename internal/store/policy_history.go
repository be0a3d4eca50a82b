package store

import (
	"fmt"
	"time"
)

// PolicyGeneration is one row of the policy_generations table: a
// policy.Engine generation number with its rule count, source path and
// the time it was recorded.
type PolicyGeneration struct {
	Generation  uint64
	RuleCount   int
	SourcePath  *string
	ReloadedAt  time.Time
}

func (s *Store) RecordPolicyGeneration(generation uint64, ruleCount int, sourcePath *string, reloadedAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO policy_generations (generation, rule_count, source_path, reloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(generation) DO UPDATE SET
			rule_count = excluded.rule_count,
			source_path = excluded.source_path,
			reloaded_at = excluded.reloaded_at`,
		generation, ruleCount, sourcePath, reloadedAt.UTC())
	if err != nil {
		return fmt.Errorf("record policy generation: %w", err)
	}
	return nil
}

// ListRecentPolicyGenerations returns the most recent n generations,
// newest first.
func (s *Store) ListRecentPolicyGenerations(n int) ([]*PolicyGeneration, error) {
	rows, err := s.db.Query(`SELECT generation, rule_count, source_path, reloaded_at
		FROM policy_generations ORDER BY generation DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list policy generations: %w", err)
	}
	defer rows.Close()
	var out []*PolicyGeneration
	for rows.Next() {
		g := &PolicyGeneration{}
		if err := rows.Scan(&g.Generation, &g.RuleCount, &g.SourcePath, &g.ReloadedAt); err != nil {
			return nil, fmt.Errorf("scan policy generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
