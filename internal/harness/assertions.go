package harness

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/replica"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s on %s: %s %v\n", ev.Step, ev.Op, ev.Replica, ev.Outcome, ev.Result)
		}
	}
	return buf.String()
}

// AssertionContext provides the live replicas for state assertions.
type AssertionContext struct {
	Ctx      context.Context
	Replicas map[string]*replica.Replica
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertConverged:
			err = assertConverged(result, assertion)
		case AssertCount:
			err = assertCount(result, assertion)
		case AssertPending:
			if actx == nil || actx.Replicas[assertion.Replica] == nil {
				err = fmt.Errorf("assertion[%d]: pending requires a live replica %q", i, assertion.Replica)
			} else {
				err = assertPending(actx.Ctx, actx.Replicas[assertion.Replica], assertion)
			}
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertConverged checks that the listed replicas (all views when none are
// listed) hold byte-identical canonical documents.
func assertConverged(result *Result, assertion Assertion) error {
	names := assertion.Replicas
	if len(names) == 0 {
		for name := range result.Views {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: "at least one written document",
			Actual:   "no replica holds a document",
			Trace:    result.Trace,
		}
	}

	var first []byte
	for i, name := range names {
		view, ok := result.Views[name]
		if !ok {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("replica %s to hold a document", name),
				Actual:   "document not found",
				Trace:    result.Trace,
			}
		}
		b, err := crdt.MarshalCanonical(view)
		if err != nil {
			return fmt.Errorf("converged: render %s: %w", name, err)
		}
		if i == 0 {
			first = b
			continue
		}
		if !bytes.Equal(first, b) {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s = %s", names[0], first),
				Actual:   fmt.Sprintf("%s = %s", name, b),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertCount checks root.count in the replica's final view.
func assertCount(result *Result, assertion Assertion) error {
	var actual any = "document not found"
	if view, ok := result.Views[assertion.Replica]; ok {
		if root, ok := view[replica.RootMap].(map[string]any); ok {
			actual = root[replica.CountKey]
		}
	}
	if c, ok := actual.(int64); ok && c == assertion.Equals {
		return nil
	}
	return &AssertionError{
		Type:     AssertCount,
		Expected: fmt.Sprintf("%s root.count = %d", assertion.Replica, assertion.Equals),
		Actual:   fmt.Sprintf("%v", actual),
		Trace:    result.Trace,
	}
}

// assertPending checks how many log entries are left un-compacted.
func assertPending(ctx context.Context, r *replica.Replica, assertion Assertion) error {
	stats, err := r.Stats(ctx)
	if err != nil {
		return fmt.Errorf("pending: stats for %s: %w", assertion.Replica, err)
	}
	if int64(stats.PendingUpdates) != assertion.Equals {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending updates on %s", assertion.Equals, assertion.Replica),
			Actual:   fmt.Sprintf("%d pending updates", stats.PendingUpdates),
		}
	}
	return nil
}

// assertTraceCount checks if the op ran exactly the specified number of
// times, on one replica when Replica is set.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == assertion.Op && (assertion.Replica == "" || ev.Replica == assertion.Replica) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that ops first appear in the specified order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if positions[ev.Op] == 0 {
			positions[ev.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra keys in actual are ignored.
func matchFields(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values, treating all integer widths alike since
// YAML decodes integers as int.
func valuesEqual(actual, expected any) bool {
	if a, ok := asInt64(actual); ok {
		e, ok := asInt64(expected)
		return ok && a == e
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
