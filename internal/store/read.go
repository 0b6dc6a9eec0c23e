package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned by ReadSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// ReadSessions returns all sessions, oldest first.
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ReadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, label, engine_version, fingerprint_version
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession returns one session.
// Returns ErrSessionNotFound if id is unknown.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, label, engine_version, fingerprint_version
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// ReadInputWrites returns the input writes of a session in seq order.
func (s *Store) ReadInputWrites(ctx context.Context, sessionID string) ([]InputWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, input_key, revision, content_hash, size
		FROM input_writes
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query input writes: %w", err)
	}
	defer rows.Close()

	writes := []InputWrite{}
	for rows.Next() {
		var w InputWrite
		if err := rows.Scan(&w.SessionID, &w.Seq, &w.Key, &w.Revision, &w.ContentHash, &w.Size); err != nil {
			return nil, fmt.Errorf("scan input write: %w", err)
		}
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate input writes: %w", err)
	}
	return writes, nil
}

// ReadQueryRecords returns the query events of a session in seq order.
func (s *Store) ReadQueryRecords(ctx context.Context, sessionID string) ([]QueryRecord, error) {
	return s.readQueryRecords(ctx, `
		SELECT session_id, seq, rule, query_id, label, revision, outcome, error_code, error, duration_us
		FROM query_events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// ReadQueryHistory returns the events of one query fingerprint in a
// session, in seq order.
func (s *Store) ReadQueryHistory(ctx context.Context, sessionID, queryID string) ([]QueryRecord, error) {
	return s.readQueryRecords(ctx, `
		SELECT session_id, seq, rule, query_id, label, revision, outcome, error_code, error, duration_us
		FROM query_events
		WHERE session_id = ? AND query_id = ?
		ORDER BY seq ASC
	`, sessionID, queryID)
}

func (s *Store) readQueryRecords(ctx context.Context, query string, args ...any) ([]QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query query events: %w", err)
	}
	defer rows.Close()

	records := []QueryRecord{}
	for rows.Next() {
		var (
			q  QueryRecord
			us int64
		)
		if err := rows.Scan(&q.SessionID, &q.Seq, &q.Rule, &q.QueryID, &q.Label, &q.Revision,
			&q.Outcome, &q.ErrorCode, &q.Error, &us); err != nil {
			return nil, fmt.Errorf("scan query event: %w", err)
		}
		q.Duration = time.Duration(us) * time.Microsecond
		records = append(records, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query events: %w", err)
	}
	return records, nil
}

// ReadOutcomeCounts returns per-outcome event counts for a session,
// ordered by outcome.
func (s *Store) ReadOutcomeCounts(ctx context.Context, sessionID string) ([]OutcomeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM query_events
		WHERE session_id = ?
		GROUP BY outcome
		ORDER BY outcome COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := []OutcomeCount{}
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess    Session
		started string
	)
	if err := sc.Scan(&sess.ID, &started, &sess.Label, &sess.EngineVersion, &sess.FingerprintVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	sess.StartedAt = t
	return sess, nil
}
