package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talves-forked/toast/internal/ir"
)

func TestMemoTable_PutGet_StructuralKey(t *testing.T) {
	table := NewMemoTable()

	k1 := MustQueryKey("browser", ir.NewIRObject(
		ir.O("key", ir.IRString("a.js")),
		ir.O("import_map", ir.StringMap(map[string]string{"a": "1", "b": "2"})),
	))
	k2 := MustQueryKey("browser", ir.NewIRObject(
		ir.O("import_map", ir.StringMap(map[string]string{"b": "2", "a": "1"})),
		ir.O("key", ir.IRString("a.js")),
	))

	table.Put(&MemoEntry{Key: k1, Value: "out", VerifiedAt: 1, ChangedAt: 1})

	m, ok := table.Get(k2)
	require.True(t, ok, "structurally equal key must hit")
	assert.Equal(t, "out", m.Value)
}

func TestMemoTable_Put_Replaces(t *testing.T) {
	table := NewMemoTable()
	k := MustQueryKey("r", nil)

	table.Put(&MemoEntry{Key: k, Value: "v1", Dependencies: []Dependency{InputDependency("a"), InputDependency("b")}})
	table.Put(&MemoEntry{Key: k, Value: "v2", Dependencies: []Dependency{InputDependency("c")}})

	m, ok := table.Get(k)
	require.True(t, ok)
	assert.Equal(t, "v2", m.Value)
	assert.Equal(t, []Dependency{InputDependency("c")}, m.Dependencies, "dependency list replaced, not appended")
	assert.Equal(t, 1, table.Len())
}

func TestMemoTable_InvalidateAll(t *testing.T) {
	table := NewMemoTable()
	table.Put(&MemoEntry{Key: MustQueryKey("a", nil)})
	table.Put(&MemoEntry{Key: MustQueryKey("b", nil)})
	require.Equal(t, 2, table.Len())

	table.InvalidateAll()

	assert.Equal(t, 0, table.Len())
	_, ok := table.Get(MustQueryKey("a", nil))
	assert.False(t, ok)
}

func TestMemoTable_Entries_Sorted(t *testing.T) {
	table := NewMemoTable()
	table.Put(&MemoEntry{Key: MustQueryKey("b", nil)})
	table.Put(&MemoEntry{Key: MustQueryKey("a", nil)})

	entries := table.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key.Rule)
	assert.Equal(t, "b", entries[1].Key.Rule)
}

func TestMemoEntry_Verified_Copies(t *testing.T) {
	m := &MemoEntry{Key: MustQueryKey("r", nil), Value: "v", VerifiedAt: 1, ChangedAt: 1}
	v := m.verified(5)

	assert.Equal(t, Revision(1), m.VerifiedAt, "original untouched")
	assert.Equal(t, Revision(5), v.VerifiedAt)
	assert.Equal(t, Revision(1), v.ChangedAt)
	assert.Equal(t, "v", v.Value)
}

func TestDependency_String(t *testing.T) {
	assert.Equal(t, "input:a.js", InputDependency("a.js").String())
	assert.Equal(t, `query:r{"key":"a.js"}`,
		QueryDependency(MustQueryKey("r", ir.NewIRObject(ir.O("key", ir.IRString("a.js"))))).String())
}

func TestQueryKey_Equal(t *testing.T) {
	a := MustQueryKey("r", ir.NewIRObject(ir.O("key", ir.IRString("a.js"))))
	b := MustQueryKey("r", ir.NewIRObject(ir.O("key", ir.IRString("a.js"))))
	c := MustQueryKey("r", ir.NewIRObject(ir.O("key", ir.IRString("b.js"))))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, QueryKey{}.Equal(QueryKey{}), "zero keys are never equal")
}

func TestNewQueryKey_Errors(t *testing.T) {
	_, err := NewQueryKey("", nil)
	assert.Error(t, err)

	_, err = NewQueryKey("r", ir.NewIRObject(ir.O("key", ir.IRString(string([]byte{0xff})))))
	assert.Error(t, err)
}
