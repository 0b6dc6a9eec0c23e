package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talves-forked/toast/internal/derive"
)

// SourceFile is one file loaded from the source directory.
type SourceFile struct {
	Key     string // slash-separated path relative to the source root
	Content []byte
}

// LoadResult contains the sources found under a directory.
type LoadResult struct {
	Root  string
	Files []SourceFile // sorted by Key
	Bytes int
}

// LoadError represents an error that occurred while loading inputs.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSources walks dir and reads every regular file whose extension is
// in exts (case-insensitive). Hidden directories are skipped. An empty
// exts accepts every file.
func LoadSources(dir string, exts []string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("source directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing source directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = true
	}

	result := &LoadResult{Root: dir}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(want) > 0 && !want[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result.Files = append(result.Files, SourceFile{Key: filepath.ToSlash(rel), Content: content})
		result.Bytes += len(content)
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(result.Files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no source files matching %v found in %s", exts, dir)}
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Key < result.Files[j].Key })
	return result, nil
}

// LoadImportMap reads an import map from a YAML or JSON file: a flat
// mapping of specifier to path, or the browser form {"imports": {...}}.
func LoadImportMap(path string) (derive.ImportMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading import map: %v", err)}
	}

	var doc struct {
		Imports map[string]string `yaml:"imports"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Imports != nil {
		return derive.ImportMap(doc.Imports), nil
	}

	var flat map[string]string
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return nil, &LoadError{Code: ErrCodeImportMap, Message: fmt.Sprintf("parsing import map %s: %v", path, err)}
	}
	return derive.ImportMap(flat), nil
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No source files found
	ErrCodeConfig      = "E004" // Invalid flags or configuration
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeImportMap   = "E006" // Import map parse error
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeJournal     = "E008" // Journal database error

	// Engine errors, one per query error code.
	ErrCodeMissingInput     = "E101"
	ErrCodeInvalidEncoding  = "E102"
	ErrCodeDerivationFailed = "E103"
	ErrCodeCyclicDependency = "E104"
	ErrCodeUnknownRule      = "E105"
)
