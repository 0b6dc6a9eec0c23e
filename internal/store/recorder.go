package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/ir"
)

// IDGenerator produces session ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 session ids, so sessions
// sort by creation time even without reading started_at.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Recorder journals engine events into a Store.
//
// Recorder implements engine.Observer. Each Recorder opens one session;
// input writes and query resolutions are appended with a shared, gap-free
// sequence. Journal failures are logged and never surface to queries.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	store *Store
	// ctx bounds the session's lifetime: observer callbacks take no
	// context, so every journal write uses this one.
	ctx     context.Context
	session string
	now     func() time.Time
	seq     atomic.Int64
	failed  atomic.Int64
}

var _ engine.Observer = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	ids   IDGenerator
	now   func() time.Time
	label string
}

// WithIDGenerator sets the session id source.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) RecorderOption {
	return func(c *recorderConfig) {
		c.ids = g
	}
}

// WithNow sets the wall clock used for started_at.
// Default: time.Now.
func WithNow(now func() time.Time) RecorderOption {
	return func(c *recorderConfig) {
		c.now = now
	}
}

// WithLabel attaches a free-form label to the session (the CLI records the
// command and source directory).
func WithLabel(label string) RecorderOption {
	return func(c *recorderConfig) {
		c.label = label
	}
}

// NewRecorder opens a new session in s.
// ctx bounds every journal write made by the recorder.
func NewRecorder(ctx context.Context, s *Store, opts ...RecorderOption) (*Recorder, error) {
	cfg := recorderConfig{ids: UUIDv7Generator{}, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Recorder{
		store:   s,
		ctx:     ctx,
		session: cfg.ids.Generate(),
		now:     cfg.now,
	}

	err := s.BeginSession(ctx, Session{
		ID:                 r.session,
		StartedAt:          r.now(),
		Label:              cfg.label,
		EngineVersion:      ir.EngineVersion,
		FingerprintVersion: ir.FingerprintVersion,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("journal session opened", "session", r.session, "label", cfg.label)
	return r, nil
}

// SessionID returns the id of the recorder's session.
func (r *Recorder) SessionID() string {
	return r.session
}

// Failures returns the number of events that could not be journaled.
func (r *Recorder) Failures() int64 {
	return r.failed.Load()
}

// InputWritten journals an input write.
func (r *Recorder) InputWritten(ev engine.InputEvent) {
	err := r.store.WriteInputWrite(r.ctx, InputWrite{
		SessionID:   r.session,
		Seq:         r.seq.Add(1),
		Key:         ev.Key,
		Revision:    int64(ev.Revision),
		ContentHash: ir.ContentHash(ev.Content),
		Size:        ev.Size,
	})
	if err != nil {
		r.failed.Add(1)
		slog.Warn("journal input write failed", "session", r.session, "key", ev.Key, "error", err)
	}
}

// QueryResolved journals a query resolution.
func (r *Recorder) QueryResolved(ev engine.QueryEvent) {
	rec := QueryRecord{
		SessionID: r.session,
		Seq:       r.seq.Add(1),
		Rule:      ev.Key.Rule,
		QueryID:   ev.Key.ID(),
		Label:     ev.Key.String(),
		Revision:  int64(ev.Revision),
		Outcome:   string(ev.Outcome),
		Duration:  ev.Duration,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
		var qe *engine.QueryError
		if errors.As(ev.Err, &qe) {
			rec.ErrorCode = string(qe.Code)
		}
	}

	if err := r.store.WriteQueryRecord(r.ctx, rec); err != nil {
		r.failed.Add(1)
		slog.Warn("journal query event failed", "session", r.session, "rule", rec.Rule, "error", err)
	}
}
