package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter    string   // scenario filter (glob pattern)
	Backends  []string // restrict every scenario to these backends
	GoldenDir string   // compare traces with <dir>/<name>.golden
	Update    bool     // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Backends []string `json:"backends"`
	Errors   []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios on every backend",
		Long: `Run YAML conformance scenarios against the in-memory and SQLite
backends. A scenario passes when every backend meets its expectations
and all backends produce the same trace.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  datatable test ./scenarios
  datatable test ./scenarios --filter "upsert*"
  datatable test ./scenarios --backend memory,sqlite3
  datatable test ./scenarios --golden ./golden --update
  datatable test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringSliceVar(&opts.Backends, "backend", nil, fmt.Sprintf("backends to run (default all of %v)", harness.Backends))
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	for _, b := range opts.Backends {
		if !slices.Contains(harness.Backends, b) {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", b))
		}
	}
	if opts.Update && opts.GoldenDir == "" {
		return NewExitError(ExitCommandError, "--update needs --golden")
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(cmd.Context(), file, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		outputTestText(cmd, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario on its backends and returns the
// combined result.
func runScenario(ctx context.Context, file string, opts *TestOptions) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	if len(opts.Backends) > 0 {
		scenario.Backends = opts.Backends
	}

	sr := ScenarioResult{Name: scenario.Name, Pass: true}
	results, err := harness.RunAll(ctx, scenario)
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("execution failed: %v", err))
		return sr
	}

	for _, res := range results {
		sr.Backends = append(sr.Backends, res.Backend)
	}
	trace, failures := harness.CompareTraces(scenario.Name, results)
	if len(failures) > 0 {
		sr.Pass = false
		// Only the first line of a trace diff is kept.
		for _, f := range failures {
			first, _, _ := strings.Cut(f, "\n")
			sr.Errors = append(sr.Errors, first)
		}
	}

	if sr.Pass && opts.GoldenDir != "" && trace != nil {
		if err := checkGolden(opts, scenario.Name, trace); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, err.Error())
		}
	}
	return sr
}

func checkGolden(opts *TestOptions, name string, trace []byte) error {
	path := filepath.Join(opts.GoldenDir, name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fmt.Errorf("failed to create golden dir: %w", err)
		}
		if err := os.WriteFile(path, trace, 0o644); err != nil {
			return fmt.Errorf("failed to update golden file: %w", err)
		}
		return nil
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, trace) {
		return fmt.Errorf("trace does not match %s (run with --update to regenerate)", path)
	}
	return nil
}

func outputTestText(cmd *cobra.Command, result TestResult) {
	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, s := range result.Scenarios {
		if s.Pass {
			okStyle.Fprint(w, "✓ ")
			fmt.Fprintf(w, "%s %s\n", s.Name, dimStyle.Sprintf("(%s)", strings.Join(s.Backends, ", ")))
			continue
		}
		failStyle.Fprint(w, "✗ ")
		fmt.Fprintln(w, s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		failStyle.Fprintln(w, summary)
	} else {
		okStyle.Fprintln(w, summary)
	}
}
