// Package derive wires the browser and server derivation rules onto the
// query engine and exposes them through the Files facade.
//
// Both rules read a source input, require it to be valid UTF-8, and hand
// the text to a compiler.Compiler. The browser rule also threads an import
// map, which is part of its query key and compared structurally.
package derive

import (
	"unicode/utf8"

	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/ir"
)

// Rule ids.
const (
	RuleBrowser = "compiled_for_browser"
	RuleServer  = "compiled_for_server"
)

// Argument names inside query keys.
const (
	argKey       = "key"
	argToolchain = "toolchain"
	argImportMap = "import_map"
)

// ImportMap maps module specifiers to resolved paths or URLs.
// Insertion order is irrelevant: two maps with equal pairs select the same
// cache entry.
type ImportMap map[string]string

// IR converts the map into a query argument.
func (m ImportMap) IR() ir.IRObject {
	return ir.StringMap(m)
}

// BrowserKey builds the query key for compiled_for_browser.
func BrowserKey(key, toolchain string, im ImportMap) (engine.QueryKey, error) {
	return engine.NewQueryKey(RuleBrowser, ir.NewIRObject(
		ir.O(argKey, ir.IRString(key)),
		ir.O(argToolchain, ir.IRString(toolchain)),
		ir.O(argImportMap, im.IR()),
	))
}

// ServerKey builds the query key for compiled_for_server.
func ServerKey(key, toolchain string) (engine.QueryKey, error) {
	return engine.NewQueryKey(RuleServer, ir.NewIRObject(
		ir.O(argKey, ir.IRString(key)),
		ir.O(argToolchain, ir.IRString(toolchain)),
	))
}

// browserRule is the compiled_for_browser body.
func (fs *Files) browserRule(f *engine.Frame, args ir.IRObject) (string, error) {
	key, err := args.String(argKey)
	if err != nil {
		return "", err
	}
	toolchain, err := args.String(argToolchain)
	if err != nil {
		return "", err
	}
	im, err := args.StringMap(argImportMap)
	if err != nil {
		return "", err
	}

	src, err := sourceText(f, key)
	if err != nil {
		return "", err
	}
	return fs.compiler.CompileForBrowser(f.Context(), src, key, toolchain, im)
}

// serverRule is the compiled_for_server body.
func (fs *Files) serverRule(f *engine.Frame, args ir.IRObject) (string, error) {
	key, err := args.String(argKey)
	if err != nil {
		return "", err
	}
	toolchain, err := args.String(argToolchain)
	if err != nil {
		return "", err
	}

	src, err := sourceText(f, key)
	if err != nil {
		return "", err
	}
	return fs.compiler.CompileForServer(f.Context(), src, key, toolchain)
}

// sourceText reads input key through the frame, recording the dependency,
// and decodes it as UTF-8.
func sourceText(f *engine.Frame, key string) (string, error) {
	b, err := f.Read(key)
	if err != nil {
		return "", err
	}
	return decode(key, b)
}

func decode(key string, b []byte) (string, error) {
	if off := invalidOffset(b); off >= 0 {
		return "", engine.NewInvalidEncodingError(key, off)
	}
	return string(b), nil
}

// invalidOffset returns the offset of the first byte that does not start a
// valid UTF-8 sequence, or -1.
func invalidOffset(b []byte) int {
	if utf8.Valid(b) {
		return -1
	}
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
