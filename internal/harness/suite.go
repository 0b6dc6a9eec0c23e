package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// SuiteResult summarises a run over several scenario files.
type SuiteResult struct {
	Total   int              `json:"total"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
	Results []ScenarioResult `json:"results"`
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// FindScenarios expands paths into scenario files. Directories are walked
// for *.yaml and *.yml files; files are taken as given. The result is
// sorted and free of duplicates.
func FindScenarios(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: p}
		}
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if (ext == ".yaml" || ext == ".yml") && !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// RunAll loads and runs every scenario file. A file that fails to load
// or run counts as failed; RunAll only returns an error when ctx ends.
func RunAll(ctx context.Context, files []string) (*SuiteResult, error) {
	suite := &SuiteResult{Results: []ScenarioResult{}}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		suite.Total++

		sr := ScenarioResult{Path: path}
		scenario, err := LoadScenario(path)
		if err != nil {
			sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		} else {
			sr.Name = scenario.Name
			if res, err := Run(ctx, scenario); err != nil {
				sr.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
			} else {
				sr.Pass = res.Pass
				sr.Errors = res.Errors
			}
		}

		if sr.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		suite.Results = append(suite.Results, sr)
	}

	return suite, nil
}
