package harness

// Outcome values recorded for a step.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step    int            `json:"step"`
	Replica string         `json:"replica"`
	Op      string         `json:"op"`
	Outcome string         `json:"outcome"` // "ok", a failure kind, or "error"
	Result  map[string]any `json:"result,omitempty"`
}

// fields flattens the event for expect matching. Outcome sits beside the
// result keys.
func (e TraceEvent) fields() map[string]any {
	m := make(map[string]any, len(e.Result)+1)
	for k, v := range e.Result {
		m[k] = v
	}
	m["outcome"] = e.Outcome
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views holds each replica's final document view, keyed by replica name.
	// A replica whose document was never written is absent.
	Views map[string]map[string]any `json:"views,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends an executed step to the trace.
func (r *Result) AddStep(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
