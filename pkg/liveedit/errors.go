package liveedit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/liveedit/pkg/activation"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// Sentinel errors.
//
// ErrInvariant marks states that can only arise from a differ or matcher
// defect (e.g. overlapping function ranges discovered mid-algorithm). It is
// never recoverable: proceeding would risk dangling embedded references, so
// callers must abort the edit and surface the failure.
var (
	// ErrInputShape reports malformed arguments at the engine boundary; the
	// call fails immediately with no partial effect.
	ErrInputShape = errors.New("liveedit: malformed input")

	// ErrPrerequisite reports a code replacement attempted while the target
	// function is still blocked by an activation.
	ErrPrerequisite = errors.New("liveedit: prerequisite violation")

	// ErrInvariant reports an internal invariant violation; it is a fatal
	// defect, not a recoverable condition.
	ErrInvariant = errors.New("liveedit: internal invariant violated")
)

// MatchError reports a structural mismatch between the old and new function
// trees. The whole edit is rejected before any mutation.
type MatchError struct {
	Reason string
}

func (e *MatchError) Error() string {
	return "liveedit: function match failed: " + e.Reason
}

// ActivationConflictError reports targets that are still blocked by live
// activations. Statuses align with Functions, giving the debugger the
// per-function detail it needs to retry with force-drop or ask the user to
// step out first. There is no automatic retry.
type ActivationConflictError struct {
	Functions []*script.FunctionRecord
	Statuses  []activation.Status
}

func (e *ActivationConflictError) Error() string {
	var blocked []string

	for i, st := range e.Statuses {
		if st.Blocked() {
			name := e.Functions[i].Name
			if name == "" {
				name = "<anonymous>"
			}

			blocked = append(blocked, fmt.Sprintf("%s (%s)", name, st))
		}
	}

	return "liveedit: blocked by activations: " + strings.Join(blocked, ", ")
}
