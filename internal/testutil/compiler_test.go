package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingCompiler_Counts(t *testing.T) {
	c := NewCountingCompiler(nil)

	out, err := c.CompileForBrowser(context.Background(), "x", "a.js", "/bin", nil)
	require.NoError(t, err)
	assert.Equal(t, "// a.js (browser)\nx\n", out)

	_, err = c.CompileForServer(context.Background(), "x", "a.js", "/bin")
	require.NoError(t, err)
	_, err = c.CompileForServer(context.Background(), "x", "a.js", "/bin")
	require.NoError(t, err)

	assert.Equal(t, int64(1), c.BrowserCalls())
	assert.Equal(t, int64(2), c.ServerCalls())
	assert.Equal(t, int64(3), c.Calls())

	c.Reset()
	assert.Equal(t, int64(0), c.Calls())
}

func TestCountingCompiler_Gate(t *testing.T) {
	gate := make(chan struct{})
	c := NewCountingCompiler(nil)
	c.Gate = gate

	done := make(chan string)
	go func() {
		out, err := c.CompileForServer(context.Background(), "x", "a.js", "/bin")
		assert.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return c.ServerCalls() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("gated call returned before release")
	default:
	}

	close(gate)
	assert.Equal(t, "// a.js (server)\nx\n", <-done)
}

func TestCountingCompiler_GateHonoursContext(t *testing.T) {
	c := NewCountingCompiler(nil)
	c.Gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CompileForBrowser(ctx, "x", "a.js", "/bin", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), c.BrowserCalls(), "the attempt is still counted")
}

func TestCountingCompiler_ThreadSafe(t *testing.T) {
	c := NewCountingCompiler(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = c.CompileForServer(context.Background(), "x", "a.js", "/bin")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), c.ServerCalls())
}
