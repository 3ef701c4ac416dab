package liveedit

import (
	"context"
	"errors"
	"time"

	"github.com/Sumatoshi-tech/liveedit/internal/observability"
	"github.com/Sumatoshi-tech/liveedit/pkg/activation"
	"github.com/Sumatoshi-tech/liveedit/pkg/position"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
	"github.com/Sumatoshi-tech/liveedit/pkg/swap"
)

// Options controls one Apply session.
type Options struct {
	// ForceDrop allows discarding activations of changed functions when
	// every frame above them is also a droppable edit target. Frame drops
	// are irreversible.
	ForceDrop bool

	// KeepOldAs, when non-empty, snapshots the pre-edit source under this
	// name before the swap.
	KeepOldAs string

	// CheckOnly stops after the activation scan and reports per-function
	// patchability without mutating anything.
	CheckOnly bool
}

// FunctionReport is the per-function outcome of one edit attempt.
type FunctionReport struct {
	Function *script.FunctionRecord
	Status   activation.Status
}

// Result describes one completed Apply call.
type Result struct {
	Script  *script.Script
	Regions []position.ChangeRegion

	// Snapshot is the retained old version, nil unless KeepOldAs was set
	// and the edit committed.
	Snapshot *script.Snapshot

	// Reports covers every scanned target: changed and deleted functions.
	Reports []FunctionReport

	Patched  int
	Inserted int
	Deleted  int

	// Committed is false for no-op edits, check-only runs, and blocked
	// edits.
	Committed bool
}

// Apply runs one complete edit session against the script: diff the
// sources, compile the new text, match old records to new function
// literals, scan activations, and either commit the swap atomically or
// abort with zero mutation. Concurrent edits of the same script serialize
// on the script's edit lock.
func (e *Engine) Apply(ctx context.Context, s *script.Script, newSource string, opts Options) (*Result, error) {
	start := time.Now()

	res, err := e.apply(s, newSource, opts)

	status := statusFor(res, err)
	e.recordApply(ctx, s, res, status, time.Since(start))

	if err != nil {
		return nil, err
	}

	return res, nil
}

func (e *Engine) apply(s *script.Script, newSource string, opts Options) (*Result, error) {
	defer s.BeginEdit()()

	res := &Result{Script: s}

	res.Regions = e.Diff(s.Source(), newSource)
	if len(res.Regions) == 0 {
		return res, nil
	}

	infos, err := e.GatherCompileInfo(s, newSource)
	if err != nil {
		return nil, err
	}

	oldForInfo, deleted, err := matchFunctions(s.Functions(), infos, res.Regions)
	if err != nil {
		return nil, err
	}

	// A surviving function is recompiled exactly when its old range touches
	// a change region; otherwise only its offsets move.
	codeChanged := make([]bool, len(infos))
	for i, old := range oldForInfo {
		if old != nil {
			codeChanged[i] = rangeDamaged(old.Start, old.End, res.Regions)
		}
	}

	targets, targetReplacements := scanTargets(oldForInfo, codeChanged, deleted)

	// Destructive drops belong to the commit, never the check.
	forceDrop := opts.ForceDrop && !opts.CheckOnly

	statuses, err := e.CheckActivations(targets, targetReplacements, forceDrop)
	if err != nil {
		return nil, err
	}

	res.Reports = make([]FunctionReport, len(targets))
	for i := range targets {
		res.Reports[i] = FunctionReport{Function: targets[i], Status: statuses[i]}
	}

	// A check-only run reports blocked functions instead of failing on them.
	if opts.CheckOnly {
		return res, nil
	}

	if blockedCount(statuses) > 0 {
		return res, &ActivationConflictError{Functions: targets, Statuses: statuses}
	}

	plan := &swap.Plan{
		Script:      s,
		NewSource:   newSource,
		KeepOldAs:   opts.KeepOldAs,
		Regions:     res.Regions,
		Infos:       infos,
		OldForInfo:  oldForInfo,
		CodeChanged: codeChanged,
		Deleted:     deleted,
	}

	snapshot, err := swap.Commit(plan, e.logger)
	if err != nil {
		return nil, err
	}

	res.Snapshot = snapshot
	res.Committed = true
	res.Deleted = len(deleted)

	for i, old := range oldForInfo {
		switch {
		case old == nil:
			res.Inserted++
		case codeChanged[i]:
			res.Patched++
		}
	}

	// Scanned targets that had live frames were only patchable because
	// their frames got dropped; reflect that in the report.
	for i := range res.Reports {
		if res.Reports[i].Status == activation.Available {
			res.Reports[i].Status = activation.Patched
		}
	}

	e.logger.Info("script edit committed",
		"script", s.Name(),
		"regions", len(res.Regions),
		"patched", res.Patched,
		"inserted", res.Inserted,
		"deleted", res.Deleted,
		"snapshot", snapshot != nil)

	return res, nil
}

// scanTargets collects the functions the activation scan must classify:
// every surviving function whose code changes, plus every deleted one.
// replacements aligns with targets; nil marks a deletion.
func scanTargets(
	oldForInfo []*script.FunctionRecord,
	codeChanged []bool,
	deleted []*script.FunctionRecord,
) (targets, replacements []*script.FunctionRecord) {
	for i, old := range oldForInfo {
		if old != nil && codeChanged[i] {
			targets = append(targets, old)
			replacements = append(replacements, old)
		}
	}

	for _, gone := range deleted {
		targets = append(targets, gone)
		replacements = append(replacements, nil)
	}

	return targets, replacements
}

// rangeDamaged reports whether [start, end) intersects any change region. A
// pure insertion counts when its point falls strictly inside the range.
func rangeDamaged(start, end int, regions []position.ChangeRegion) bool {
	for _, r := range regions {
		if r.OldBegin < end && start < r.OldEnd {
			return true
		}

		if r.OldBegin == r.OldEnd && start < r.OldBegin && r.OldBegin < end {
			return true
		}
	}

	return false
}

func blockedCount(statuses []activation.Status) int {
	n := 0

	for _, st := range statuses {
		if st.Blocked() {
			n++
		}
	}

	return n
}

func statusFor(res *Result, err error) string {
	switch {
	case err != nil:
		var conflict *ActivationConflictError
		if errors.As(err, &conflict) {
			return observability.StatusBlocked
		}

		return observability.StatusError
	case res == nil:
		return observability.StatusError
	case res.Committed:
		return observability.StatusCommitted
	case len(res.Regions) == 0:
		return observability.StatusNoChange
	default:
		return observability.StatusCheckOnly
	}
}

func (e *Engine) recordApply(ctx context.Context, s *script.Script, res *Result, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}

	regions, patched, blocked := 0, 0, 0
	if res != nil {
		regions = len(res.Regions)
		patched = res.Patched

		for _, rep := range res.Reports {
			if rep.Status.Blocked() {
				blocked++
			}
		}
	}

	e.metrics.RecordEdit(ctx, s.Name(), status, elapsed, regions, patched, blocked)
}
