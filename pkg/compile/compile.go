// Package compile defines the boundary with the compiler collaborator: the
// ordered function-literal information produced by compiling new source, and
// a tree-sitter backed reference implementation. The live-edit core only
// consumes this package's output; it never inspects syntax itself.
package compile

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// ErrOrdering reports compiler output that violates the pre-order,
// contiguous-subtree invariant.
var ErrOrdering = errors.New("compile: function infos not in pre-order")

// FunctionInfo is one compiled function literal from the new source. Infos
// are ordered so each function's full descendant subtree occupies a
// contiguous run immediately after the function itself (parent-first,
// pre-order); the root script-level function is always first.
type FunctionInfo struct {
	Name  string
	Start int
	End   int

	// LiteralID is the pre-order index, which is also the literal id the
	// function receives when bound to a script.
	LiteralID int

	// ParentIndex is the index of the enclosing function, -1 for the root.
	ParentIndex int

	// Depth and ChildIndex locate the literal in the nesting structure:
	// Depth is 0 for the root, ChildIndex is the position among the
	// parent's direct function children.
	Depth      int
	ChildIndex int

	Code *script.Code
}

// Compiler produces function-literal information from new source text.
// Implementations must report a *Error for source that does not parse and
// must satisfy the FunctionInfo ordering invariant on success.
type Compiler interface {
	Compile(name, source string) ([]FunctionInfo, error)
}

// Error is a compile failure with its position in the rejected source.
type Error struct {
	ScriptName string
	Offset     int
	Msg        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("compile %s at offset %d: %s", e.ScriptName, e.Offset, e.Msg)
}

// ValidateOrder checks the pre-order, contiguous-subtree invariant with a
// nesting stack: every entry's parent must be the innermost still-open
// function, and every range must nest inside its parent's range.
func ValidateOrder(infos []FunctionInfo) error {
	if len(infos) == 0 {
		return nil
	}

	if infos[0].ParentIndex != -1 {
		return fmt.Errorf("%w: first entry is not the root", ErrOrdering)
	}

	var stack []int

	for i, info := range infos {
		if info.LiteralID != i {
			return fmt.Errorf("%w: entry %d has literal id %d", ErrOrdering, i, info.LiteralID)
		}

		if info.End < info.Start {
			return fmt.Errorf("%w: entry %d range is backwards", ErrOrdering, i)
		}

		if i == 0 {
			stack = append(stack, 0)

			continue
		}

		for len(stack) > 0 && info.Start >= infos[stack[len(stack)-1]].End {
			stack = stack[:len(stack)-1]
		}

		if len(stack) == 0 {
			return fmt.Errorf("%w: entry %d outside the root range", ErrOrdering, i)
		}

		top := stack[len(stack)-1]
		if info.ParentIndex != top {
			return fmt.Errorf("%w: entry %d has parent %d, innermost open is %d", ErrOrdering, i, info.ParentIndex, top)
		}

		if info.End > infos[top].End {
			return fmt.Errorf("%w: entry %d escapes its parent range", ErrOrdering, i)
		}

		stack = append(stack, i)
	}

	return nil
}
