package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type compileResponse struct {
	Status    string        `json:"status"`
	Data      CompileReport `json:"data"`
	Error     *CLIError     `json:"error"`
	SessionID string        `json:"session_id"`
}

func decodeCompile(t *testing.T, out string) compileResponse {
	t.Helper()
	var resp compileResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestCompile_BothTargets(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.js":      "export const a = 1;",
		"lib/b.js":  "export const b = 2;",
		"README.md": "# not a source",
		".git/c.js": "hidden();",
	})

	out, _, err := execute(t, "compile", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ a.js [browser]")
	assert.Contains(t, out, "✓ a.js [server]")
	assert.Contains(t, out, "✓ lib/b.js [browser]")
	assert.Contains(t, out, "✓ lib/b.js [server]")
	assert.NotContains(t, out, "README")
	assert.NotContains(t, out, "c.js")
	assert.Contains(t, out, "Pass 1: 4 executed, 0 hits, 0 failed")
	assert.Contains(t, out, "Compiled 4 of 4 output(s) from 2 source(s) at revision 2")
}

func TestCompile_SecondPassIsServedFromCache(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.js": "x();", "b.js": "y();"})

	out, _, err := execute(t, "compile", dir, "--passes", "2", "--workers", "2", "--format", "json")
	require.NoError(t, err)

	resp := decodeCompile(t, out)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Passes, 2)
	assert.Equal(t, uint64(4), resp.Data.Passes[0].Executions)
	assert.Equal(t, uint64(0), resp.Data.Passes[1].Executions)
	assert.Equal(t, uint64(4), resp.Data.Passes[1].Hits)
	assert.Equal(t, uint64(4), resp.Data.Stats.Executions)
	assert.Equal(t, int64(2), resp.Data.Revision)
	assert.Len(t, resp.Data.Files, 4)
	assert.Zero(t, resp.Data.Failed)
}

func TestCompile_PerOutputFailures(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"good.js":   "ok();",
		"broken.js": "f(;",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.js"), []byte{0xff, 0xfe}, 0o644))

	out, _, err := execute(t, "compile", dir, "--target", "server")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 output(s) failed")

	assert.Contains(t, out, "✓ good.js [server]")
	assert.Contains(t, out, "✗ broken.js [server]")
	assert.Contains(t, out, ErrCodeDerivationFailed)
	assert.Contains(t, out, "✗ binary.js [server]")
	assert.Contains(t, out, ErrCodeInvalidEncoding)
}

func TestCompile_OutDir(t *testing.T) {
	dir := writeTree(t, map[string]string{"lib/a.js": "export const a = 1;"})

	t.Run("both targets", func(t *testing.T) {
		outDir := t.TempDir()
		_, _, err := execute(t, "compile", dir, "--out", outDir)
		require.NoError(t, err)

		browser, err := os.ReadFile(filepath.Join(outDir, "browser", "lib", "a.js"))
		require.NoError(t, err)
		assert.Equal(t, "// lib/a.js (browser)\nexport const a = 1;\n", string(browser))

		server, err := os.ReadFile(filepath.Join(outDir, "server", "lib", "a.js"))
		require.NoError(t, err)
		assert.Equal(t, "// lib/a.js (server)\nexport const a = 1;\n", string(server))
	})

	t.Run("single target", func(t *testing.T) {
		outDir := t.TempDir()
		_, _, err := execute(t, "compile", dir, "--out", outDir, "--target", "server")
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(outDir, "lib", "a.js"))
		assert.NoError(t, err)
	})
}

func TestCompile_ImportMapFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"app.js": `import React from "react";`})
	imPath := filepath.Join(t.TempDir(), "importmap.json")
	require.NoError(t, os.WriteFile(imPath, []byte(`{"imports": {"react": "/vendor/react.js"}}`), 0o644))
	outDir := t.TempDir()

	_, _, err := execute(t, "compile", dir, "--target", "browser", "--import-map", imPath, "--out", outDir)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "app.js"))
	require.NoError(t, err)
	assert.Contains(t, string(got), `from "/vendor/react.js"`)
}

func TestCompile_Metrics(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.js": "x();"})

	out, _, err := execute(t, "compile", dir, "--passes", "2", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, `toast_queries_total{outcome="hit",rule="compiled_for_browser"} 1`)
	assert.Contains(t, out, `toast_rule_executions_total{rule="compiled_for_server"} 1`)
	assert.Contains(t, out, "toast_memo_entries 2")
}

func TestCompile_ExecCompilerMissingTool(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.js": "x();"})

	out, _, err := execute(t, "compile", dir, "--compiler", "exec", "--toolchain", t.TempDir(), "--target", "server")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ a.js [server]")
	assert.Contains(t, out, ErrCodeDerivationFailed)
}

func TestCompile_CommandErrors(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.js": "x();"})

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing dir", []string{"compile", filepath.Join(dir, "nope")}, ErrCodeNotFound},
		{"no sources", []string{"compile", t.TempDir()}, ErrCodeNoFiles},
		{"bad target", []string{"compile", dir, "--target", "edge"}, ErrCodeConfig},
		{"zero passes", []string{"compile", dir, "--passes", "0"}, ErrCodeConfig},
		{"bad compiler", []string{"compile", dir, "--compiler", "wasm"}, ErrCodeConfig},
		{"missing import map", []string{"compile", dir, "--import-map", filepath.Join(dir, "im.json")}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append(tt.args, "--format", "json")...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeCompile(t, out)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCompile_MissingArgs(t *testing.T) {
	_, _, err := execute(t, "compile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
