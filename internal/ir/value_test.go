package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIRObject_LastPairWins(t *testing.T) {
	obj := NewIRObject(O("k", IRInt(1)), O("k", IRInt(2)))
	assert.Equal(t, IRInt(2), obj["k"])
}

func TestStringMap_NilIsEmpty(t *testing.T) {
	obj := StringMap(nil)
	require.NotNil(t, obj)
	assert.Empty(t, obj)
}

func TestIRObject_String(t *testing.T) {
	obj := NewIRObject(O("key", IRString("a.js")), O("n", IRInt(3)))

	s, err := obj.String("key")
	require.NoError(t, err)
	assert.Equal(t, "a.js", s)

	_, err = obj.String("missing")
	assert.ErrorContains(t, err, "missing argument")

	_, err = obj.String("n")
	assert.ErrorContains(t, err, "expected string")
}

func TestIRObject_StringMap(t *testing.T) {
	obj := NewIRObject(
		O("import_map", StringMap(map[string]string{"react": "/react.js"})),
		O("bad", IRObject{"x": IRInt(1)}),
		O("scalar", IRString("x")),
	)

	m, err := obj.StringMap("import_map")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"react": "/react.js"}, m)

	m, err = obj.StringMap("absent")
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = obj.StringMap("bad")
	assert.Error(t, err)

	_, err = obj.StringMap("scalar")
	assert.Error(t, err)
}

func TestIRObject_SortedKeys(t *testing.T) {
	obj := IRObject{"b": IRInt(1), "a": IRInt(2), "aa": IRInt(3)}
	assert.Equal(t, []string{"a", "aa", "b"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	assert.Equal(t, 0, compareKeysRFC8785("a", "a"))
	assert.Equal(t, -1, compareKeysRFC8785("a", "b"))
	assert.Equal(t, 1, compareKeysRFC8785("b", "a"))
	assert.Equal(t, -1, compareKeysRFC8785("a", "ab"))
	assert.Equal(t, -1, compareKeysRFC8785("\U0001F600", "\uff61"))
}
