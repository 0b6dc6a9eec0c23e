package derive

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/engine"
)

// Request is one output to produce in a batch.
type Request struct {
	Key       string
	Target    compiler.Target
	Toolchain string
	ImportMap ImportMap // browser only
}

// Result is the outcome of one Request.
type Result struct {
	Request
	Output   string
	Err      error
	Duration time.Duration
}

// BatchOptions configures CompileAll.
type BatchOptions struct {
	// Workers bounds concurrent queries. Zero means runtime.NumCPU().
	Workers int
}

// CompileAll resolves every request over a bounded worker pool.
//
// Results are returned in request order. A failure confined to one output
// (invalid encoding, compiler error) is reported in that Result and the
// batch continues. A fatal engine error or cancellation of ctx stops the
// batch and is returned; results not yet produced have neither Output nor
// Err set.
func (fs *Files) CompileAll(ctx context.Context, reqs []Request, opts BatchOptions) ([]Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	start := time.Now()
	for i, req := range reqs {
		i, req := i, req
		results[i].Request = req
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t0 := time.Now()
			out, err := fs.Compile(gctx, req.Target, req.Key, req.Toolchain, req.ImportMap)
			results[i].Duration = time.Since(t0)
			if err != nil && (engine.IsFatal(err) || gctx.Err() != nil) {
				results[i].Err = err
				return err
			}
			results[i].Output = out
			results[i].Err = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Info("batch aborted", "requests", len(reqs), "error", err)
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("batch finished",
		"requests", len(reqs),
		"failed", failed,
		"workers", workers,
		"duration", time.Since(start),
	)
	return results, nil
}
