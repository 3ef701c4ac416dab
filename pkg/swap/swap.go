// Package swap performs the destructive half of a live edit: rebinding
// compiled code, moving function positions, rewiring nested-function
// references, and binding inserted functions to the script. Nothing here
// decides whether a swap is safe; callers commit only after every target
// resolved to a patchable status.
package swap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/liveedit/pkg/compile"
	"github.com/Sumatoshi-tech/liveedit/pkg/position"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// Sentinel errors. ErrForeignRecord and ErrPlanShape indicate caller
// defects discovered before any mutation; the commit aborts whole.
var (
	ErrForeignRecord = errors.New("swap: record does not belong to the edited script")
	ErrPlanShape     = errors.New("swap: malformed commit plan")
)

// ReplaceFunctionCode rebinds fn to the newly compiled code and adopts the
// new declared range and name. Used for every function whose body text
// changed.
func ReplaceFunctionCode(info compile.FunctionInfo, fn *script.FunctionRecord) {
	fn.Code = info.Code
	fn.Start = info.Start
	fn.End = info.End

	if info.Name != "" {
		fn.Name = info.Name
	}
}

// PatchFunctionPositions remaps each record's stored offsets through the
// change regions, in place. Used for functions that are not being
// recompiled: only an enclosing region of the script moved, so only the
// offsets change and the code stays bound.
func PatchFunctionPositions(fns []*script.FunctionRecord, regions []position.ChangeRegion) error {
	if err := position.Validate(regions); err != nil {
		return err
	}

	for _, fn := range fns {
		fn.Start = position.Translate(fn.Start, regions)
		fn.End = position.Translate(fn.End, regions)
	}

	return nil
}

// Plan is the fully resolved mutation set for one edit, produced after
// matching and activation scanning said go.
type Plan struct {
	Script    *script.Script
	NewSource string
	KeepOldAs string

	// Regions is the old→new position mapping for the whole edit.
	Regions []position.ChangeRegion

	// Infos is the complete compile output for the new source, pre-order.
	Infos []compile.FunctionInfo

	// OldForInfo aligns with Infos: the surviving old record matched to
	// each entry, or nil for an inserted function.
	OldForInfo []*script.FunctionRecord

	// CodeChanged aligns with Infos: true when the matched record's body
	// text changed and its code must be rebound.
	CodeChanged []bool

	// Deleted holds old records with no counterpart in the new source.
	Deleted []*script.FunctionRecord
}

// validate rejects malformed plans before any mutation happens.
func (p *Plan) validate() error {
	if p.Script == nil {
		return fmt.Errorf("%w: nil script", ErrPlanShape)
	}

	if len(p.OldForInfo) != len(p.Infos) || len(p.CodeChanged) != len(p.Infos) {
		return fmt.Errorf("%w: info alignment", ErrPlanShape)
	}

	if err := compile.ValidateOrder(p.Infos); err != nil {
		return err
	}

	for _, fn := range p.OldForInfo {
		if fn != nil && fn.Script() != p.Script {
			return fmt.Errorf("%w: %q", ErrForeignRecord, fn.Name)
		}
	}

	for _, fn := range p.Deleted {
		if fn.Script() != p.Script {
			return fmt.Errorf("%w: deleted %q", ErrForeignRecord, fn.Name)
		}
	}

	return nil
}

// Commit applies the plan: source replacement (with optional snapshot),
// code rebinding, position patching, insertion, deletion, and nested-ref
// rewiring. Mutation starts only after validation passes, so a rejected
// plan leaves the script untouched.
func Commit(p *Plan, logger *slog.Logger) (*script.Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	snapshot, err := p.Script.ReplaceSource(p.NewSource, p.KeepOldAs)
	if err != nil {
		return nil, err
	}

	// Surviving functions first: rebind changed code, move unchanged ones.
	var moved []*script.FunctionRecord

	records := make([]*script.FunctionRecord, len(p.Infos))

	for i, info := range p.Infos {
		old := p.OldForInfo[i]
		if old == nil {
			continue
		}

		records[i] = old

		if p.CodeChanged[i] {
			ReplaceFunctionCode(info, old)

			continue
		}

		moved = append(moved, old)
	}

	if err := PatchFunctionPositions(moved, p.Regions); err != nil {
		return nil, err
	}

	// Inserted functions get fresh literal ids strictly greater than the
	// script's current maximum, then hang off their parent's nested refs.
	nextID := p.Script.NextLiteralID()

	for i, info := range p.Infos {
		if records[i] != nil {
			continue
		}

		rec := &script.FunctionRecord{
			Name:      info.Name,
			Start:     info.Start,
			End:       info.End,
			LiteralID: nextID,
			Code:      info.Code,
		}
		nextID++

		if err := p.Script.AddFunction(rec); err != nil {
			return nil, err
		}

		records[i] = rec

		if info.ParentIndex >= 0 && records[info.ParentIndex] != nil {
			records[info.ParentIndex].AddNested(rec)
		}

		logger.Debug("function inserted",
			"script", p.Script.Name(),
			"function", rec.Name,
			"literal_id", rec.LiteralID)
	}

	// Deleted functions: clear every embedded reference so nothing
	// dangles, then detach the record from the script.
	for _, gone := range p.Deleted {
		for _, fn := range p.Script.Functions() {
			fn.ReplaceNestedRef(gone, nil)
		}

		if err := script.SetFunctionScript(gone, nil); err != nil {
			return nil, err
		}

		logger.Debug("function deleted",
			"script", p.Script.Name(),
			"function", gone.Name)
	}

	return snapshot, nil
}
