package store

import (
	"context"
	"fmt"
	"time"
)

// BeginSession inserts a session row.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - reopening a session id
// is silently ignored.
func (s *Store) BeginSession(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("begin session: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, started_at, label, engine_version, fingerprint_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.Label,
		sess.EngineVersion,
		sess.FingerprintVersion,
	)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// WriteInputWrite appends an input write to its session.
//
// Note: The session referenced by SessionID must exist (foreign key constraint).
func (s *Store) WriteInputWrite(ctx context.Context, w InputWrite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO input_writes
		(session_id, seq, input_key, revision, content_hash, size)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		w.SessionID,
		w.Seq,
		w.Key,
		w.Revision,
		w.ContentHash,
		w.Size,
	)
	if err != nil {
		return fmt.Errorf("write input write: %w", err)
	}
	return nil
}

// WriteQueryRecord appends a query resolution to its session.
//
// Note: The session referenced by SessionID must exist (foreign key constraint).
func (s *Store) WriteQueryRecord(ctx context.Context, q QueryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_events
		(session_id, seq, rule, query_id, label, revision, outcome, error_code, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		q.SessionID,
		q.Seq,
		q.Rule,
		q.QueryID,
		q.Label,
		q.Revision,
		q.Outcome,
		q.ErrorCode,
		q.Error,
		q.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("write query record: %w", err)
	}
	return nil
}
