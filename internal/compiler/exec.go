package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Default tool names looked up under the toolchain path.
const (
	DefaultBrowserTool = "toast-browser"
	DefaultServerTool  = "toast-server"
)

// waitDelay bounds how long a killed tool's descendants may hold its pipes.
const waitDelay = 2 * time.Second

// Exec compiles by running a toolchain binary:
//
//	<toolchain>/<tool> --target <browser|server> --filename <key> [--import-map <json>]
//
// The source is written to the tool's stdin and its stdout is the output.
// A non-zero exit yields a *ToolError carrying the tool's stderr.
type Exec struct {
	// BrowserTool and ServerTool are tool names relative to the toolchain
	// path. Empty means DefaultBrowserTool / DefaultServerTool.
	BrowserTool string
	ServerTool  string

	// Timeout bounds a single tool run. Zero means no timeout beyond ctx.
	Timeout time.Duration

	// Env is appended to the current environment.
	Env []string
}

// ToolError reports a failed tool run.
type ToolError struct {
	Tool   string
	Code   int
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, msg)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// CompileForBrowser runs the browser tool.
func (x *Exec) CompileForBrowser(ctx context.Context, source, key, toolchain string, importMap map[string]string) (string, error) {
	args := []string{"--target", string(TargetBrowser), "--filename", key}
	if len(importMap) > 0 {
		// encoding/json sorts map keys, so the argument is deterministic.
		b, err := json.Marshal(importMap)
		if err != nil {
			return "", fmt.Errorf("encode import map: %w", err)
		}
		args = append(args, "--import-map", string(b))
	}
	return x.run(ctx, toolPath(toolchain, x.BrowserTool, DefaultBrowserTool), args, source)
}

// CompileForServer runs the server tool.
func (x *Exec) CompileForServer(ctx context.Context, source, key, toolchain string) (string, error) {
	args := []string{"--target", string(TargetServer), "--filename", key}
	return x.run(ctx, toolPath(toolchain, x.ServerTool, DefaultServerTool), args, source)
}

func toolPath(toolchain, tool, fallback string) string {
	if tool == "" {
		tool = fallback
	}
	if toolchain == "" || filepath.IsAbs(tool) {
		return tool
	}
	return filepath.Join(toolchain, tool)
}

func (x *Exec) run(ctx context.Context, name string, args []string, source string) (string, error) {
	parent := ctx
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	if len(x.Env) > 0 {
		cmd.Env = append(os.Environ(), x.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(source)

	start := time.Now()
	err := cmd.Run()
	slog.Debug("compiler tool finished",
		"tool", name,
		"args", args,
		"duration", time.Since(start),
		"error", err,
	)
	if err == nil {
		return stdout.String(), nil
	}

	// The caller gave up: report cancellation as such, not as a tool failure.
	if parent.Err() != nil {
		return "", parent.Err()
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("timed out after %s: %w", x.Timeout, ctx.Err())
	}
	return "", &ToolError{Tool: name, Code: code, Stderr: stderr.String(), Err: err}
}
