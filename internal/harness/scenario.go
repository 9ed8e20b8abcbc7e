package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE file or directory holding the table catalog.
	// Relative paths are resolved against the scenario file.
	Schema string `yaml:"schema"`

	// Backends restricts the backends the scenario runs on.
	// Empty means all of them.
	Backends []string `yaml:"backends,omitempty"`

	// Seed rows per table, inserted in catalog order before the steps.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation issued through the database runtime.
type Step struct {
	Op    string `yaml:"op"`
	Table string `yaml:"table,omitempty"`

	// Query shape.
	Where   map[string]any `yaml:"where,omitempty"`
	Select  []string       `yaml:"select,omitempty"`
	OrderBy []string       `yaml:"order_by,omitempty"` // "col" or "col desc"
	Limit   *int           `yaml:"limit,omitempty"`
	Offset  *int           `yaml:"offset,omitempty"`
	With    []string       `yaml:"with,omitempty"` // relation names from the catalog

	// Key is the primary key for find: a scalar or a column map.
	Key any `yaml:"key,omitempty"`

	// Write payloads and options. Returning ["*"] asks for every column.
	Values     map[string]any   `yaml:"values,omitempty"`
	Rows       []map[string]any `yaml:"rows,omitempty"`
	Returning  []string         `yaml:"returning,omitempty"`
	OnConflict []string         `yaml:"on_conflict,omitempty"`
	DoUpdate   []string         `yaml:"do_update,omitempty"`
	DoNothing  bool             `yaml:"do_nothing,omitempty"`

	// Transaction body. Rollback makes the body fail after its steps ran.
	Steps    []Step `yaml:"steps,omitempty"`
	Rollback bool   `yaml:"rollback,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect validates the outcome of a step.
type Expect struct {
	Rows     []map[string]any `yaml:"rows,omitempty"`
	Row      map[string]any   `yaml:"row,omitempty"`
	None     bool             `yaml:"none,omitempty"` // no row (first/find) or an empty result
	Count    *int64           `yaml:"count,omitempty"`
	Exists   *bool            `yaml:"exists,omitempty"`
	Affected *int64           `yaml:"affected,omitempty"`
	Error    string           `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is final_state or row_count.
	Type string `yaml:"type"`

	Table string         `yaml:"table"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds column values every matched row must have (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matched rows (row_count).
	Count *int64 `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertRowCount   = "row_count"
)

// Step operations.
const (
	OpQuery       = "query"
	OpFirst       = "first"
	OpFind        = "find"
	OpCount       = "count"
	OpExists      = "exists"
	OpInsert      = "insert"
	OpInsertMany  = "insert_many"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpUpsert      = "upsert"
	OpTransaction = "transaction"
)

var tableOps = []string{OpQuery, OpFirst, OpFind, OpCount, OpExists, OpInsert, OpInsertMany, OpUpdate, OpDelete, OpUpsert}

var errorKinds = []string{"VALIDATION", "QUERY", "ADAPTER", "CONSTRAINT"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema not found: %s", s.Schema)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for _, b := range s.Backends {
		if !slices.Contains(Backends, b) {
			return fmt.Errorf("unknown backend %q", b)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(path string, s *Step) error {
	switch {
	case s.Op == OpTransaction:
		if len(s.Steps) == 0 {
			return fmt.Errorf("%s: transaction needs steps", path)
		}
		for i, inner := range s.Steps {
			if err := validateStep(fmt.Sprintf("%s.steps[%d]", path, i), &inner); err != nil {
				return err
			}
		}
	case slices.Contains(tableOps, s.Op):
		if s.Table == "" {
			return fmt.Errorf("%s: table is required for %s", path, s.Op)
		}
		if len(s.Steps) > 0 || s.Rollback {
			return fmt.Errorf("%s: only transactions take steps", path)
		}
	case s.Op == "":
		return fmt.Errorf("%s: op is required", path)
	default:
		return fmt.Errorf("%s: unknown op %q", path, s.Op)
	}

	switch s.Op {
	case OpFind:
		if s.Key == nil {
			return fmt.Errorf("%s: key is required for find", path)
		}
	case OpInsert, OpUpsert, OpUpdate:
		if len(s.Values) == 0 && (s.Expect == nil || s.Expect.Error == "") {
			return fmt.Errorf("%s: values are required for %s", path, s.Op)
		}
	case OpInsertMany:
		if s.Rows == nil {
			return fmt.Errorf("%s: rows are required for insert_many", path)
		}
	}
	if s.Expect != nil && s.Expect.Error != "" && !slices.Contains(errorKinds, s.Expect.Error) {
		return fmt.Errorf("%s.expect: unknown error kind %q", path, s.Expect.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("assertions[%d]: table is required", index)
	}
	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
