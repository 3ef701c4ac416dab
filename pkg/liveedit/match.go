package liveedit

import (
	"fmt"
	"sort"

	"github.com/Sumatoshi-tech/liveedit/pkg/compile"
	"github.com/Sumatoshi-tech/liveedit/pkg/position"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// oldEntry is one old function record with its structural position and its
// range translated into new-text coordinates.
type oldEntry struct {
	fn           *script.FunctionRecord
	patchedStart int
	patchedEnd   int
	depth        int
	childIndex   int
}

// buildOldEntries orders the script's records pre-order (by start ascending,
// end descending) and derives each one's nesting depth and child order with
// an open-function stack. Overlapping sibling ranges are an invariant
// violation.
func buildOldEntries(fns []*script.FunctionRecord, regions []position.ChangeRegion) ([]oldEntry, error) {
	entries := make([]oldEntry, len(fns))
	for i, fn := range fns {
		entries[i] = oldEntry{
			fn:           fn,
			patchedStart: position.Translate(fn.Start, regions),
			patchedEnd:   position.Translate(fn.End, regions),
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].fn, entries[j].fn
		if a.Start != b.Start {
			return a.Start < b.Start
		}

		return a.End > b.End
	})

	type open struct {
		end      int
		children int
		depth    int
	}

	var stack []open

	for i := range entries {
		fn := entries[i].fn

		for len(stack) > 0 && fn.Start >= stack[len(stack)-1].end {
			stack = stack[:len(stack)-1]
		}

		if len(stack) > 0 {
			top := &stack[len(stack)-1]
			if fn.End > top.end {
				return nil, fmt.Errorf("%w: function %q crosses its enclosing range", ErrInvariant, fn.Name)
			}

			entries[i].depth = top.depth + 1
			entries[i].childIndex = top.children
			top.children++
		}

		stack = append(stack, open{end: fn.End, depth: entries[i].depth})
	}

	return entries, nil
}

// matchFunctions pairs each old record with the compile info whose declared
// range equals the record's patched old range, using (depth, child order) as
// the secondary key when several candidates share a range — new code can
// introduce or remove an enclosing scope without breaking identity. The root
// record always matches the root info. Unmatched old records are deletions;
// unmatched infos are insertions.
func matchFunctions(
	fns []*script.FunctionRecord,
	infos []compile.FunctionInfo,
	regions []position.ChangeRegion,
) (oldForInfo []*script.FunctionRecord, deleted []*script.FunctionRecord, err error) {
	if len(infos) == 0 {
		return nil, nil, &MatchError{Reason: "empty compile info"}
	}

	entries, err := buildOldEntries(fns, regions)
	if err != nil {
		return nil, nil, err
	}

	oldForInfo = make([]*script.FunctionRecord, len(infos))
	matched := make([]bool, len(entries))

	type rangeKey struct{ start, end int }

	infosByRange := make(map[rangeKey][]int)
	for i := 1; i < len(infos); i++ {
		key := rangeKey{infos[i].Start, infos[i].End}
		infosByRange[key] = append(infosByRange[key], i)
	}

	// Root matches root unconditionally: the script-level function always
	// spans the whole source in both versions.
	if len(entries) > 0 && entries[0].depth == 0 {
		oldForInfo[0] = entries[0].fn
		matched[0] = true
	}

	for i := 1; i < len(entries); i++ {
		e := entries[i]
		candidates := infosByRange[rangeKey{e.patchedStart, e.patchedEnd}]

		pick := -1

		for _, c := range candidates {
			if oldForInfo[c] != nil {
				continue
			}

			if infos[c].Depth == e.depth && infos[c].ChildIndex == e.childIndex {
				pick = c

				break
			}

			if pick == -1 {
				pick = c
			}
		}

		if pick == -1 {
			continue
		}

		oldForInfo[pick] = e.fn
		matched[i] = true
	}

	for i, ok := range matched {
		if !ok {
			deleted = append(deleted, entries[i].fn)
		}
	}

	if err := checkMatchConsistency(oldForInfo, infos); err != nil {
		return nil, nil, err
	}

	return oldForInfo, deleted, nil
}

// checkMatchConsistency rejects matchings where old ranges cross matched
// info ranges: if two matched infos nest, their old records must nest the
// same way, and disjoint infos must have disjoint old records in the same
// order. Partial application is never observable, so any inconsistency
// aborts the edit before mutation.
func checkMatchConsistency(oldForInfo []*script.FunctionRecord, infos []compile.FunctionInfo) error {
	for i := range infos {
		if oldForInfo[i] == nil {
			continue
		}

		for j := i + 1; j < len(infos); j++ {
			if oldForInfo[j] == nil {
				continue
			}

			a, b := oldForInfo[i], oldForInfo[j]

			switch {
			case isAncestor(infos, i, j):
				if !(a.Start <= b.Start && b.End <= a.End) {
					return &MatchError{Reason: fmt.Sprintf("%q no longer encloses %q", a.Name, b.Name)}
				}
			default:
				// infos are pre-order, so a non-ancestor j is disjoint
				// after i; the old records must be disjoint too.
				if b.Start < a.End && a.Start < b.End {
					return &MatchError{Reason: fmt.Sprintf("%q crosses %q", a.Name, b.Name)}
				}
			}
		}
	}

	return nil
}

// isAncestor reports whether infos[i] is an ancestor of infos[j].
func isAncestor(infos []compile.FunctionInfo, i, j int) bool {
	for p := infos[j].ParentIndex; p >= 0; p = infos[p].ParentIndex {
		if p == i {
			return true
		}
	}

	return false
}
