package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talves-forked/toast/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run cache scenarios",
		Long: `Run YAML cache scenarios against a fresh engine each.

Directories are searched for *.yaml and *.yml files. Each scenario writes
inputs, queries derivations and asserts on outcomes, compiler calls,
memo entries and revisions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (paths not found, no scenarios)

Examples:
  toast scenario ./scenarios
  toast scenario edit.yaml cold.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runScenarios(opts *RootOptions, paths []string, cmd *cobra.Command) error {
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

	files, err := harness.FindScenarios(paths)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return outputCommandError(formatter, ErrCodeNotFound, err)
		}
		return outputCommandError(formatter, ErrCodeScanError, err)
	}
	if len(files) == 0 {
		return outputCommandError(formatter, ErrCodeNoFiles, fmt.Errorf("no scenario files found in %v", paths))
	}

	suite, err := harness.RunAll(ctx, files)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(suite); err != nil {
			return err
		}
	} else {
		outputSuiteText(formatter, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", suite.Failed, suite.Total))
	}
	return nil
}

func outputSuiteText(formatter *OutputFormatter, suite *harness.SuiteResult) {
	w := formatter.Writer
	for _, r := range suite.Results {
		name := r.Name
		if name == "" {
			name = filepath.Base(r.Path)
		}
		if r.Pass {
			fmt.Fprintf(w, "✓ %s\n", name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", indent(e))
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}
