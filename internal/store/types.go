package store

import "time"

// Session is one engine lifetime.
type Session struct {
	ID                 string
	StartedAt          time.Time
	Label              string
	EngineVersion      string
	FingerprintVersion string
}

// InputWrite records one Input Store write.
type InputWrite struct {
	SessionID   string
	Seq         int64
	Key         string
	Revision    int64
	ContentHash string
	Size        int
}

// QueryRecord records one query resolution.
type QueryRecord struct {
	SessionID string
	Seq       int64
	Rule      string
	QueryID   string
	Label     string // rendered query key
	Revision  int64
	Outcome   string
	ErrorCode string // empty on success or for errors without a code
	Error     string
	Duration  time.Duration
}

// OutcomeCount is the number of query events of one outcome in a session.
type OutcomeCount struct {
	Outcome string
	Count   int
}
