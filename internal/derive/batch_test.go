package derive

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/engine"
)

func TestCompileAll_ResultsInRequestOrder(t *testing.T) {
	fs, cc := newFiles(t)

	var reqs []Request
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("m%02d.js", i)
		fs.Write(key, []byte(fmt.Sprintf("export const n = %d;", i)))
		reqs = append(reqs,
			Request{Key: key, Target: compiler.TargetBrowser, Toolchain: toolchain},
			Request{Key: key, Target: compiler.TargetServer, Toolchain: toolchain},
		)
	}

	results, err := fs.CompileAll(context.Background(), reqs, BatchOptions{Workers: 3})
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, r := range results {
		assert.Equal(t, reqs[i], r.Request)
		require.NoError(t, r.Err)
		assert.Contains(t, r.Output, fmt.Sprintf("// %s (%s)", r.Key, r.Target))
	}
	assert.Equal(t, int64(10), cc.BrowserCalls())
	assert.Equal(t, int64(10), cc.ServerCalls())

	// Second pass is served from the memo table.
	_, err = fs.CompileAll(context.Background(), reqs, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), cc.Calls())
}

func TestCompileAll_PerOutputFailuresContinue(t *testing.T) {
	fs, _ := newFiles(t)
	fs.Write("good.js", []byte("ok();"))
	fs.Write("broken.js", []byte("f(;"))
	fs.Write("binary.js", []byte{0xff})

	reqs := []Request{
		{Key: "good.js", Target: compiler.TargetServer, Toolchain: toolchain},
		{Key: "broken.js", Target: compiler.TargetServer, Toolchain: toolchain},
		{Key: "binary.js", Target: compiler.TargetBrowser, Toolchain: toolchain},
	}

	results, err := fs.CompileAll(context.Background(), reqs, BatchOptions{Workers: 1})
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.True(t, engine.IsDerivationFailed(results[1].Err))
	assert.True(t, engine.IsInvalidEncoding(results[2].Err))
}

func TestCompileAll_FatalAborts(t *testing.T) {
	fs, _ := newFiles(t)
	fs.Write("a.js", []byte("ok();"))

	reqs := []Request{
		{Key: "ghost.js", Target: compiler.TargetServer, Toolchain: toolchain},
		{Key: "a.js", Target: compiler.TargetServer, Toolchain: toolchain},
	}

	results, err := fs.CompileAll(context.Background(), reqs, BatchOptions{Workers: 1})
	require.Error(t, err)
	assert.True(t, engine.IsMissingInput(err))
	require.Len(t, results, 2)
	assert.True(t, engine.IsMissingInput(results[0].Err))
}

func TestCompileAll_Cancelled(t *testing.T) {
	fs, _ := newFiles(t)
	fs.Write("a.js", []byte("ok();"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.CompileAll(ctx, []Request{{Key: "a.js", Target: compiler.TargetServer}}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fs.Engine().MemoCount())
}

func TestCompileAll_Empty(t *testing.T) {
	fs, _ := newFiles(t)

	results, err := fs.CompileAll(context.Background(), nil, BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
