package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id string, started time.Time) Session {
	return Session{
		ID:                 id,
		StartedAt:          started,
		Label:              "test",
		EngineVersion:      "0.1.0",
		FingerprintVersion: "1",
	}
}

func TestBeginSession_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	require.NoError(t, s.BeginSession(ctx, testSession("s1", started)))

	got, err := s.ReadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, "test", got.Label)
	assert.Equal(t, "0.1.0", got.EngineVersion)
	assert.Equal(t, "1", got.FingerprintVersion)
}

func TestBeginSession_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(100, 0))))

	sessions, err := s.ReadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, time.Unix(0, 0).Equal(sessions[0].StartedAt), "first write wins")
}

func TestBeginSession_EmptyID(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.BeginSession(context.Background(), Session{}))
}

func TestReadSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadSession(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestReadSessions_OrderedByStart(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.BeginSession(ctx, testSession("late", base.Add(time.Hour))))
	require.NoError(t, s.BeginSession(ctx, testSession("early", base)))

	sessions, err := s.ReadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "early", sessions[0].ID)
	assert.Equal(t, "late", sessions[1].ID)
}

func TestReadSessions_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	sessions, err := s.ReadSessions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestInputWrites_SeqOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))

	require.NoError(t, s.WriteInputWrite(ctx, InputWrite{SessionID: "s1", Seq: 3, Key: "b.js", Revision: 2, ContentHash: "hb", Size: 2}))
	require.NoError(t, s.WriteInputWrite(ctx, InputWrite{SessionID: "s1", Seq: 1, Key: "a.js", Revision: 1, ContentHash: "ha", Size: 1}))

	writes, err := s.ReadInputWrites(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, InputWrite{SessionID: "s1", Seq: 1, Key: "a.js", Revision: 1, ContentHash: "ha", Size: 1}, writes[0])
	assert.Equal(t, "b.js", writes[1].Key)
}

func TestInputWrites_DuplicateSeqRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))

	w := InputWrite{SessionID: "s1", Seq: 1, Key: "a.js", Revision: 1, ContentHash: "h"}
	require.NoError(t, s.WriteInputWrite(ctx, w))
	assert.Error(t, s.WriteInputWrite(ctx, w))
}

func TestQueryRecords_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))

	want := QueryRecord{
		SessionID: "s1",
		Seq:       2,
		Rule:      "compiled_for_server",
		QueryID:   "q1",
		Label:     `compiled_for_server{"key":"a.js","toolchain":"/bin"}`,
		Revision:  1,
		Outcome:   "failed",
		ErrorCode: "MISSING_INPUT",
		Error:     "MISSING_INPUT: input was never written (input=a.js)",
		Duration:  1500 * time.Microsecond,
	}
	require.NoError(t, s.WriteQueryRecord(ctx, want))

	records, err := s.ReadQueryRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, want, records[0])
}

func TestQueryHistory_FiltersByQuery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))

	for i, q := range []struct{ id, outcome string }{
		{"q1", "executed"},
		{"q2", "executed"},
		{"q1", "hit"},
		{"q1", "validated"},
	} {
		require.NoError(t, s.WriteQueryRecord(ctx, QueryRecord{
			SessionID: "s1", Seq: int64(i + 1), Rule: "r", QueryID: q.id, Label: "r{}", Outcome: q.outcome,
		}))
	}

	history, err := s.ReadQueryHistory(ctx, "s1", "q1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "executed", history[0].Outcome)
	assert.Equal(t, "hit", history[1].Outcome)
	assert.Equal(t, "validated", history[2].Outcome)

	counts, err := s.ReadOutcomeCounts(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []OutcomeCount{
		{Outcome: "executed", Count: 2},
		{Outcome: "hit", Count: 1},
		{Outcome: "validated", Count: 1},
	}, counts)
}

func TestReads_SessionsAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, testSession("s1", time.Unix(0, 0))))
	require.NoError(t, s.BeginSession(ctx, testSession("s2", time.Unix(1, 0))))

	require.NoError(t, s.WriteInputWrite(ctx, InputWrite{SessionID: "s1", Seq: 1, Key: "a.js", ContentHash: "h"}))
	require.NoError(t, s.WriteInputWrite(ctx, InputWrite{SessionID: "s2", Seq: 1, Key: "b.js", ContentHash: "h"}))

	writes, err := s.ReadInputWrites(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, "b.js", writes[0].Key)
}
