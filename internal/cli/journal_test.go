package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talves-forked/toast/internal/derive"
)

type journalListResponse struct {
	Status string           `json:"status"`
	Data   []SessionSummary `json:"data"`
}

type journalDetailResponse struct {
	Status string        `json:"status"`
	Data   SessionDetail `json:"data"`
}

// recordSession compiles a small tree with --journal and returns the
// database path and session id.
func recordSession(t *testing.T) (string, string, string) {
	t.Helper()
	dir := writeTree(t, map[string]string{"a.js": "x();", "b.js": "f(;"})
	db := filepath.Join(t.TempDir(), "toast.db")

	out, _, err := execute(t, "compile", dir, "--journal", db, "--target", "server", "--passes", "2", "--format", "json")
	require.Error(t, err, "b.js does not compile")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeCompile(t, out)
	require.NotEmpty(t, resp.SessionID)
	return db, resp.SessionID, dir
}

func TestJournal_ListSessions(t *testing.T) {
	db, id, dir := recordSession(t)

	out, _, err := execute(t, "journal", "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp journalListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, id, resp.Data[0].ID)
	assert.Equal(t, "compile "+dir, resp.Data[0].Label)

	out, _, err = execute(t, "journal", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, id)
}

func TestJournal_ShowSession(t *testing.T) {
	db, id, _ := recordSession(t)

	out, _, err := execute(t, "journal", "--db", db, "--session", id, "--format", "json")
	require.NoError(t, err)

	var resp journalDetailResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	d := resp.Data

	require.Len(t, d.Writes, 2)
	assert.Equal(t, "a.js", d.Writes[0].Key)
	assert.Equal(t, int64(1), d.Writes[0].Revision)

	// Pass 1: two executions (one failed). Pass 2: one hit, one failure
	// re-run because failures are not cached.
	assert.Len(t, d.Queries, 4)
	assert.Equal(t, 1, d.Outcomes["executed"])
	assert.Equal(t, 1, d.Outcomes["hit"])
	assert.Equal(t, 2, d.Outcomes["failed"])

	text, _, err := execute(t, "journal", "--db", db, "--session", id)
	require.NoError(t, err)
	assert.Contains(t, text, "Writes:")
	assert.Contains(t, text, "DERIVATION_FAILED")
	assert.Contains(t, text, "Outcomes: hit=1 executed=1 failed=2")
}

func TestJournal_QueryHistory(t *testing.T) {
	db, id, _ := recordSession(t)
	key, err := derive.ServerKey("a.js", "")
	require.NoError(t, err)

	out, _, err := execute(t, "journal", "--db", db, "--session", id, "--query", key.ID(), "--format", "json")
	require.NoError(t, err)

	var resp journalDetailResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Queries, 2)
	assert.Equal(t, "executed", resp.Data.Queries[0].Outcome)
	assert.Equal(t, "hit", resp.Data.Queries[1].Outcome)
	assert.Empty(t, resp.Data.Writes)
}

func TestJournal_Errors(t *testing.T) {
	db, _, _ := recordSession(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"no db", []string{"journal"}, ErrCodeConfig},
		{"missing db", []string{"journal", "--db", filepath.Join(t.TempDir(), "none.db")}, ErrCodeNotFound},
		{"query without session", []string{"journal", "--db", db, "--query", "abc"}, ErrCodeConfig},
		{"unknown session", []string{"journal", "--db", db, "--session", "nope"}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}
