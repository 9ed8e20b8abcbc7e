package harness

// TraceEvent is the normalized outcome of one step.
// Transactions add a begin event before their body and a commit or
// rollback event after it; Depth is the transaction nesting level.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Depth    int    `json:"depth,omitempty"`
	Op       string `json:"op"`
	Table    string `json:"table,omitempty"`
	Result   any    `json:"result,omitempty"`
	Affected *int64 `json:"affected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of running a scenario on one backend.
type Result struct {
	// Backend the scenario ran on.
	Backend string `json:"backend"`

	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(backend string) *Result {
	return &Result{
		Backend: backend,
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
