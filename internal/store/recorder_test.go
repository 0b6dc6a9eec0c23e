package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/derive"
	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/ir"
	"github.com/talves-forked/toast/internal/testutil"
)

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}

func TestNewRecorder_OpensSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r, err := NewRecorder(ctx, s,
		WithIDGenerator(testutil.NewFixedIDGenerator("sess-1")),
		WithNow(testutil.NewStepClock(0).Now),
		WithLabel("compile ./src"),
	)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", r.SessionID())

	sess, err := s.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, testutil.DefaultEpoch.Equal(sess.StartedAt))
	assert.Equal(t, "compile ./src", sess.Label)
	assert.Equal(t, ir.EngineVersion, sess.EngineVersion)
	assert.Equal(t, ir.FingerprintVersion, sess.FingerprintVersion)
}

func TestNewRecorder_DefaultUUIDv7(t *testing.T) {
	s := createTestStore(t)

	r, err := NewRecorder(context.Background(), s)
	require.NoError(t, err)

	parsed, err := uuid.Parse(r.SessionID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestRecorder_JournalsEngineEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r, err := NewRecorder(ctx, s, WithIDGenerator(testutil.NewFixedIDGenerator("sess-1")))
	require.NoError(t, err)

	fs, err := derive.New(engine.New(engine.WithObserver(r)), compiler.Builtin{})
	require.NoError(t, err)

	fs.Write("a.js", []byte("export const x = 1;"))
	_, err = fs.CompiledForServer(ctx, "a.js", "/bin")
	require.NoError(t, err)
	_, err = fs.CompiledForServer(ctx, "a.js", "/bin")
	require.NoError(t, err)
	_, err = fs.CompiledForServer(ctx, "ghost.js", "/bin")
	require.Error(t, err)

	writes, err := s.ReadInputWrites(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, int64(1), writes[0].Seq)
	assert.Equal(t, "a.js", writes[0].Key)
	assert.Equal(t, int64(1), writes[0].Revision)
	assert.Equal(t, ir.ContentHash([]byte("export const x = 1;")), writes[0].ContentHash)
	assert.Equal(t, len("export const x = 1;"), writes[0].Size)

	records, err := s.ReadQueryRecords(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	key, err := derive.ServerKey("a.js", "/bin")
	require.NoError(t, err)

	assert.Equal(t, int64(2), records[0].Seq)
	assert.Equal(t, derive.RuleServer, records[0].Rule)
	assert.Equal(t, key.ID(), records[0].QueryID)
	assert.Equal(t, key.String(), records[0].Label)
	assert.Equal(t, "executed", records[0].Outcome)
	assert.Empty(t, records[0].ErrorCode)

	assert.Equal(t, "hit", records[1].Outcome)

	assert.Equal(t, "failed", records[2].Outcome)
	assert.Equal(t, "MISSING_INPUT", records[2].ErrorCode)
	assert.Contains(t, records[2].Error, "ghost.js")

	assert.Equal(t, int64(0), r.Failures())
}

func TestRecorder_WriteFailureDoesNotPanic(t *testing.T) {
	s := createTestStore(t)
	r, err := NewRecorder(context.Background(), s)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	r.InputWritten(engine.InputEvent{Key: "a.js", Revision: 1})
	r.QueryResolved(engine.QueryEvent{
		Key:      engine.MustQueryKey("r", nil),
		Revision: 1,
		Outcome:  engine.OutcomeExecuted,
		Duration: time.Millisecond,
	})

	assert.Equal(t, int64(2), r.Failures())
}

func TestRecorder_CancelledSessionContextStopsJournal(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	r, err := NewRecorder(ctx, s, WithIDGenerator(testutil.NewFixedIDGenerator("sess-1")))
	require.NoError(t, err)

	r.InputWritten(engine.InputEvent{Key: "a.js", Revision: 1, Content: []byte("x"), Size: 1})
	cancel()
	r.InputWritten(engine.InputEvent{Key: "b.js", Revision: 2, Content: []byte("y"), Size: 1})

	writes, err := s.ReadInputWrites(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, "a.js", writes[0].Key)
	assert.Equal(t, int64(1), r.Failures())
}
