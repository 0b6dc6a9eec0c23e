// Package config loads toast configuration files.
//
// A configuration file is YAML (.yaml, .yml), JSON (.json) or CUE (.cue).
// CUE files are unified with the closed #Config schema embedded in this
// package, so unknown fields and out-of-range values are rejected with a
// source position. Command-line flags override file values, and the
// TOAST_* environment variables override both.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/talves-forked/toast/internal/compiler"
)

//go:embed schema.cue
var schemaCUE string

// Compiler kinds.
const (
	KindBuiltin = "builtin"
	KindExec    = "exec"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvToolchain = "TOAST_TOOLCHAIN"
	EnvLogLevel  = "TOAST_LOG"
	EnvJournal   = "TOAST_JOURNAL"
)

// Config is the resolved toast configuration.
type Config struct {
	Toolchain  string            `yaml:"toolchain" json:"toolchain,omitempty"`
	ImportMap  map[string]string `yaml:"import_map" json:"import_map,omitempty"`
	Compiler   CompilerConfig    `yaml:"compiler" json:"compiler,omitempty"`
	Journal    string            `yaml:"journal" json:"journal,omitempty"`
	Workers    int               `yaml:"workers" json:"workers,omitempty"`
	LogLevel   string            `yaml:"log_level" json:"log_level,omitempty"`
	Extensions []string          `yaml:"extensions" json:"extensions,omitempty"`
}

// CompilerConfig selects and configures the compiler backend.
type CompilerConfig struct {
	Kind        string `yaml:"kind" json:"kind,omitempty"`
	BrowserTool string `yaml:"browser_tool" json:"browser_tool,omitempty"`
	ServerTool  string `yaml:"server_tool" json:"server_tool,omitempty"`
	// Timeout is a Go duration string ("30s"). Empty means no limit.
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Compiler: CompilerConfig{
			Kind:        KindBuiltin,
			BrowserTool: compiler.DefaultBrowserTool,
			ServerTool:  compiler.DefaultServerTool,
		},
		LogLevel:   "info",
		Extensions: []string{".js", ".jsx", ".ts", ".tsx", ".mjs"},
	}
}

// LoadError reports a configuration file that could not be parsed or
// does not match the schema.
type LoadError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load reads the configuration file at path on top of Default.
// The format is chosen by file extension.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return parseYAML(path, data)
	case ".cue":
		return parseCUE(path, data)
	default:
		return Config{}, &LoadError{Path: path, Message: "unsupported config format (want .yaml, .yml, .json or .cue)"}
	}
}

// parseYAML also serves JSON, which is a subset of YAML.
func parseYAML(path string, data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, &LoadError{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

func parseCUE(path string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return Config{}, formatCUEError(path, err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(path, err)
	}

	var file Config
	if err := unified.Decode(&file); err != nil {
		return Config{}, formatCUEError(path, err)
	}

	cfg := Default()
	cfg.merge(file)
	return cfg, nil
}

// merge copies every field set in o over c.
func (c *Config) merge(o Config) {
	if o.Toolchain != "" {
		c.Toolchain = o.Toolchain
	}
	if o.ImportMap != nil {
		c.ImportMap = o.ImportMap
	}
	if o.Compiler.Kind != "" {
		c.Compiler.Kind = o.Compiler.Kind
	}
	if o.Compiler.BrowserTool != "" {
		c.Compiler.BrowserTool = o.Compiler.BrowserTool
	}
	if o.Compiler.ServerTool != "" {
		c.Compiler.ServerTool = o.Compiler.ServerTool
	}
	if o.Compiler.Timeout != "" {
		c.Compiler.Timeout = o.Compiler.Timeout
	}
	if o.Journal != "" {
		c.Journal = o.Journal
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Extensions != nil {
		c.Extensions = o.Extensions
	}
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Path: path, Message: err.Error()}
	}

	first := errs[0]
	le := &LoadError{Path: path, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// ApplyEnv overrides fields from the TOAST_* environment variables.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvToolchain); v != "" {
		c.Toolchain = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvJournal); v != "" {
		c.Journal = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Compiler.Kind {
	case KindBuiltin:
	case KindExec:
		if c.Compiler.BrowserTool == "" || c.Compiler.ServerTool == "" {
			return errors.New("compiler: exec requires browser_tool and server_tool")
		}
	default:
		return fmt.Errorf("compiler.kind: unknown kind %q (want builtin or exec)", c.Compiler.Kind)
	}

	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative, got %d", c.Workers)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extensions: %q must start with a dot", ext)
		}
	}
	for spec := range c.ImportMap {
		if spec == "" {
			return errors.New("import_map: empty specifier")
		}
	}
	return nil
}

// Timeout parses Compiler.Timeout. An empty value is zero.
func (c Config) Timeout() (time.Duration, error) {
	if c.Compiler.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Compiler.Timeout)
	if err != nil {
		return 0, fmt.Errorf("compiler.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("compiler.timeout: must not be negative, got %s", d)
	}
	return d, nil
}

// ParseLevel maps a log_level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level: unknown level %q", s)
}

// NewCompiler builds the compiler backend the configuration selects.
func (c Config) NewCompiler() (compiler.Compiler, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Compiler.Kind == KindBuiltin {
		return compiler.Builtin{}, nil
	}

	timeout, _ := c.Timeout()
	return &compiler.Exec{
		BrowserTool: c.Compiler.BrowserTool,
		ServerTool:  c.Compiler.ServerTool,
		Timeout:     timeout,
	}, nil
}
