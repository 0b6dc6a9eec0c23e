package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryID_Deterministic(t *testing.T) {
	args := NewIRObject(O("key", IRString("a.js")), O("toolchain", IRString("/bin")))

	id1, err := QueryID("compiled_for_server", args)
	require.NoError(t, err)
	id2, err := QueryID("compiled_for_server", args)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "hex-encoded SHA-256")
}

func TestQueryID_StructuralEquality(t *testing.T) {
	a := NewIRObject(
		O("key", IRString("a.js")),
		O("import_map", StringMap(map[string]string{"x": "/x.js", "y": "/y.js"})),
	)
	b := NewIRObject(
		O("import_map", StringMap(map[string]string{"y": "/y.js", "x": "/x.js"})),
		O("key", IRString("a.js")),
	)

	assert.Equal(t, MustQueryID("browser", a), MustQueryID("browser", b))
}

func TestQueryID_DiffersByRule(t *testing.T) {
	args := NewIRObject(O("key", IRString("a.js")))
	assert.NotEqual(t, MustQueryID("browser", args), MustQueryID("server", args))
}

func TestQueryID_DiffersByArgs(t *testing.T) {
	a := NewIRObject(O("key", IRString("a.js")))
	b := NewIRObject(O("key", IRString("b.js")))
	assert.NotEqual(t, MustQueryID("browser", a), MustQueryID("browser", b))
}

func TestQueryID_NilArgsEqualsEmpty(t *testing.T) {
	assert.Equal(t, MustQueryID("r", nil), MustQueryID("r", IRObject{}))
}

func TestQueryID_RequiresRule(t *testing.T) {
	_, err := QueryID("", IRObject{})
	assert.Error(t, err)
}

func TestQueryID_DomainSeparated(t *testing.T) {
	// The same canonical bytes under different domains never collide.
	data, err := MarshalCanonical(IRObject{"args": IRObject{}, "rule": IRString("r")})
	require.NoError(t, err)

	assert.Equal(t, hashWithDomain(DomainQuery, data), MustQueryID("r", IRObject{}))
	assert.NotEqual(t, ContentHash(data), MustQueryID("r", IRObject{}))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("a")), ContentHash([]byte("a")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
	assert.Len(t, ContentHash(nil), 64)
}

func TestMustQueryID_Panics(t *testing.T) {
	assert.Panics(t, func() { MustQueryID("", nil) })
}
