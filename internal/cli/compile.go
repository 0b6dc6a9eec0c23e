package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/config"
	"github.com/talves-forked/toast/internal/derive"
	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/metrics"
	"github.com/talves-forked/toast/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Target    string // browser | server | both
	Toolchain string
	ImportMap string // path to a YAML/JSON import map
	Out       string
	Journal   string
	Workers   int
	Passes    int
	Compiler  string // builtin | exec
	Metrics   bool
}

// FileResult is the outcome of one output in the final pass.
type FileResult struct {
	Key       string `json:"key"`
	Target    string `json:"target"`
	OK        bool   `json:"ok"`
	Bytes     int    `json:"bytes,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PassStats summarises one compilation pass.
type PassStats struct {
	Pass       int           `json:"pass"`
	Duration   time.Duration `json:"duration_ns"`
	Executions uint64        `json:"executions"`
	Hits       uint64        `json:"hits"`
	Failures   uint64        `json:"failures"`
}

// CompileReport is the result of the compile command.
type CompileReport struct {
	Root     string       `json:"root"`
	Sources  int          `json:"sources"`
	Files    []FileResult `json:"files"`
	Passes   []PassStats  `json:"passes"`
	Stats    engine.Stats `json:"stats"`
	Revision int64        `json:"revision"`
	Failed   int          `json:"failed"`
	OutDir   string       `json:"out_dir,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <source-dir>",
		Short: "Compile a source tree for the browser and/or the server",
		Long: `Load every source file under <source-dir> into a fresh query engine and
compile it for the requested targets.

With --passes N the batch is resolved N times; later passes are served
from the memo table and show up as hits in the statistics.

Exit codes:
  0 - Every output compiled
  1 - One or more outputs failed (invalid encoding, compiler error)
  2 - Command error (bad flags, missing paths, fatal engine errors)

Examples:
  toast compile ./src
  toast compile ./src --target browser --import-map importmap.json --out dist
  toast compile ./src --compiler exec --toolchain /opt/toast --journal toast.db
  toast compile ./src --passes 2 --metrics --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "both", "compilation target (browser|server|both)")
	cmd.Flags().StringVar(&opts.Toolchain, "toolchain", "", "toolchain path (overrides config)")
	cmd.Flags().StringVar(&opts.ImportMap, "import-map", "", "import map file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write outputs under this directory")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the session in this SQLite database (overrides config)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "j", 0, "concurrent queries (0 = config or NumCPU)")
	cmd.Flags().IntVar(&opts.Passes, "passes", 1, "number of times to resolve the batch")
	cmd.Flags().StringVar(&opts.Compiler, "compiler", "", "compiler backend (builtin|exec, overrides config)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics in Prometheus text format")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, targets, err := opts.resolve()
	if err != nil {
		return outputCommandError(formatter, ErrCodeConfig, err)
	}

	im := derive.ImportMap(cfg.ImportMap)
	if opts.ImportMap != "" {
		if im, err = LoadImportMap(opts.ImportMap); err != nil {
			return outputLoadError(formatter, err)
		}
	}

	sources, err := LoadSources(dir, cfg.Extensions)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d source file(s) in %s", len(sources.Files), dir)

	comp, err := cfg.NewCompiler()
	if err != nil {
		return outputCommandError(formatter, ErrCodeConfig, err)
	}

	collector := metrics.New()
	engineOpts := []engine.Option{engine.WithObserver(collector)}

	if cfg.Journal != "" {
		st, err := store.Open(cfg.Journal)
		if err != nil {
			return outputCommandError(formatter, ErrCodeJournal, err)
		}
		defer st.Close()

		rec, err := store.NewRecorder(ctx, st, store.WithLabel("compile "+dir))
		if err != nil {
			return outputCommandError(formatter, ErrCodeJournal, err)
		}
		formatter.SessionID = rec.SessionID()
		engineOpts = append(engineOpts, engine.WithObserver(rec))
	}

	eng := engine.New(engineOpts...)
	if err := collector.Watch(eng); err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err)
	}
	fs, err := derive.New(eng, comp)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err)
	}

	for _, f := range sources.Files {
		fs.Write(f.Key, f.Content)
	}

	var reqs []derive.Request
	for _, f := range sources.Files {
		for _, t := range targets {
			req := derive.Request{Key: f.Key, Target: t, Toolchain: cfg.Toolchain}
			if t == compiler.TargetBrowser {
				req.ImportMap = im
			}
			reqs = append(reqs, req)
		}
	}

	report := &CompileReport{Root: dir, Sources: len(sources.Files)}
	var results []derive.Result
	for pass := 1; pass <= opts.Passes; pass++ {
		before := eng.Stats()
		start := time.Now()

		results, err = fs.CompileAll(ctx, reqs, derive.BatchOptions{Workers: cfg.Workers})
		if err != nil {
			code := ErrCodeGeneric
			if c := engineErrorCode(err); c != "" {
				code = c
			}
			return outputCommandError(formatter, code, err)
		}

		after := eng.Stats()
		report.Passes = append(report.Passes, PassStats{
			Pass:       pass,
			Duration:   time.Since(start),
			Executions: after.Executions - before.Executions,
			Hits:       after.Hits - before.Hits,
			Failures:   after.Failures - before.Failures,
		})
		formatter.VerboseLog("Pass %d: %d executed, %d hits", pass,
			after.Executions-before.Executions, after.Hits-before.Hits)
	}

	for _, r := range results {
		fr := FileResult{Key: r.Key, Target: string(r.Target), OK: r.Err == nil, Bytes: len(r.Output)}
		if r.Err != nil {
			fr.ErrorCode = engineErrorCode(r.Err)
			fr.Error = r.Err.Error()
			report.Failed++
		}
		report.Files = append(report.Files, fr)
	}
	report.Stats = eng.Stats()
	report.Revision = int64(eng.Revision())

	if opts.Out != "" {
		if err := writeOutputs(opts.Out, results, len(targets) > 1); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, err)
		}
		report.OutDir = opts.Out
	}

	if err := outputCompileReport(formatter, report); err != nil {
		return err
	}
	if opts.Metrics {
		if err := collector.WriteText(formatter.Writer); err != nil {
			return err
		}
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d output(s) failed to compile", report.Failed))
	}
	return nil
}

// resolve applies command flags on top of the root configuration.
func (o *CompileOptions) resolve() (config.Config, []compiler.Target, error) {
	cfg := o.Config
	if o.Toolchain != "" {
		cfg.Toolchain = o.Toolchain
	}
	if o.Journal != "" {
		cfg.Journal = o.Journal
	}
	if o.Workers != 0 {
		cfg.Workers = o.Workers
	}
	if o.Compiler != "" {
		cfg.Compiler.Kind = o.Compiler
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	if o.Passes < 1 {
		return cfg, nil, fmt.Errorf("--passes must be at least 1, got %d", o.Passes)
	}

	var targets []compiler.Target
	switch o.Target {
	case "both":
		targets = []compiler.Target{compiler.TargetBrowser, compiler.TargetServer}
	default:
		t, err := compiler.ParseTarget(o.Target)
		if err != nil {
			return cfg, nil, err
		}
		targets = []compiler.Target{t}
	}
	return cfg, targets, nil
}

// writeOutputs writes successful results under dir. With several targets
// each target gets its own subdirectory.
func writeOutputs(dir string, results []derive.Result, perTarget bool) error {
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(r.Key))
		if perTarget {
			path = filepath.Join(dir, string(r.Target), filepath.FromSlash(r.Key))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(r.Output), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// engineErrorCode maps a query error to its CLI error code, or "".
func engineErrorCode(err error) string {
	var qe *engine.QueryError
	if !errors.As(err, &qe) {
		return ""
	}
	switch qe.Code {
	case engine.ErrCodeMissingInput:
		return ErrCodeMissingInput
	case engine.ErrCodeInvalidEncoding:
		return ErrCodeInvalidEncoding
	case engine.ErrCodeDerivationFailed:
		return ErrCodeDerivationFailed
	case engine.ErrCodeCyclicDependency:
		return ErrCodeCyclicDependency
	case engine.ErrCodeUnknownRule:
		return ErrCodeUnknownRule
	}
	return ""
}

func outputCompileReport(formatter *OutputFormatter, report *CompileReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	for _, f := range report.Files {
		if f.OK {
			fmt.Fprintf(w, "✓ %s [%s] %d bytes\n", f.Key, f.Target, f.Bytes)
			continue
		}
		fmt.Fprintf(w, "✗ %s [%s]\n", f.Key, f.Target)
		fmt.Fprintf(w, "  %s %s\n", f.ErrorCode, indent(f.Error))
	}
	fmt.Fprintln(w)

	for _, p := range report.Passes {
		fmt.Fprintf(w, "Pass %d: %d executed, %d hits, %d failed (%s)\n",
			p.Pass, p.Executions, p.Hits, p.Failures, p.Duration.Round(time.Microsecond))
	}
	fmt.Fprintf(w, "Compiled %d of %d output(s) from %d source(s) at revision %d\n",
		len(report.Files)-report.Failed, len(report.Files), report.Sources, report.Revision)
	if report.OutDir != "" {
		fmt.Fprintf(w, "Wrote outputs to %s\n", report.OutDir)
	}
	if formatter.SessionID != "" {
		fmt.Fprintf(w, "Journal session: %s\n", formatter.SessionID)
	}
	return nil
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}

// outputLoadError reports a LoadError under its own code.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return outputCommandError(formatter, le.Code, errors.New(le.Message))
	}
	return outputCommandError(formatter, ErrCodeGeneric, err)
}

// outputCommandError reports a command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}
