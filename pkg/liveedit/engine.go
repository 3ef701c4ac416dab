// Package liveedit implements edit-and-continue for scripts: it diffs old
// and new source, maps the diff to function-level position changes, scans
// execution stacks for blocking activations, and swaps compiled code while
// keeping script ids and position metadata consistent.
//
// The engine assumes single-mutator semantics: the host runtime suspends
// other execution for the duration of one edit. Edits against the same
// script are serialized on the script's edit lock; an edit either fully
// commits or fully aborts.
package liveedit

import (
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/liveedit/internal/observability"
	"github.com/Sumatoshi-tech/liveedit/pkg/activation"
	"github.com/Sumatoshi-tech/liveedit/pkg/compile"
	"github.com/Sumatoshi-tech/liveedit/pkg/position"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
	"github.com/Sumatoshi-tech/liveedit/pkg/swap"
	"github.com/Sumatoshi-tech/liveedit/pkg/textdiff"
)

// UsageTracker is notified once per edit attempt that found actual changes.
// Hosts hang debugger feature accounting off it.
type UsageTracker func(feature string)

// FeatureLiveEdit is the feature name reported to the usage tracker.
const FeatureLiveEdit = "live-edit"

// Engine ties the live-edit components together over the injected
// collaborators: the compiler and the host's stack-walking capability.
type Engine struct {
	compiler compile.Compiler
	scanner  *activation.Scanner
	logger   *slog.Logger
	metrics  *observability.EditMetrics
	tracker  UsageTracker
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches edit metrics.
func WithMetrics(m *observability.EditMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithUsageTracker sets the feature-usage hook.
func WithUsageTracker(t UsageTracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// New creates an engine over the given compiler and stack walker. dropper
// may be nil when the host cannot unwind frames; force-drop requests then
// leave blocked functions blocked.
func New(compiler compile.Compiler, walker activation.FrameWalker, dropper activation.FrameDropper, opts ...Option) *Engine {
	e := &Engine{
		compiler: compiler,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.scanner = activation.NewScanner(walker, dropper, e.logger)

	return e
}

// Diff compares two source texts and returns the ordered change regions.
// A non-empty result records live-edit feature usage.
func (e *Engine) Diff(oldText, newText string) []position.ChangeRegion {
	regions := textdiff.Compare(oldText, newText)

	if len(regions) > 0 && e.tracker != nil {
		e.tracker(FeatureLiveEdit)
	}

	return regions
}

// FunctionsForScript returns every function record owned by the script, in
// literal id order. The script maintains its own record list, so this is a
// lookup, not a heap scan.
func (e *Engine) FunctionsForScript(s *script.Script) []*script.FunctionRecord {
	return s.Functions()
}

// GatherCompileInfo compiles the new source against the script's grammar
// and returns the function-literal infos in pre-order. The compile error of
// an unparsable source carries its offset; ordering violations in compiler
// output are fatal defects.
func (e *Engine) GatherCompileInfo(s *script.Script, newSource string) ([]compile.FunctionInfo, error) {
	infos, err := e.compiler.Compile(s.Name(), newSource)
	if err != nil {
		return nil, err
	}

	if err := compile.ValidateOrder(infos); err != nil {
		return nil, err
	}

	return infos, nil
}

// CheckActivations classifies each old function against the current stack
// snapshot. newFns aligns with oldFns; a nil entry means the function is
// being deleted outright and can never be force-dropped. With
// forceDrop=false the call is read-only and idempotent; with forceDrop=true
// it may irreversibly unwind frames and must be treated as part of a commit.
func (e *Engine) CheckActivations(oldFns, newFns []*script.FunctionRecord, forceDrop bool) ([]activation.Status, error) {
	if len(newFns) != len(oldFns) {
		return nil, ErrInputShape
	}

	deleted := make([]bool, len(oldFns))
	for i, fn := range newFns {
		deleted[i] = fn == nil
	}

	return e.scanner.Check(oldFns, deleted, forceDrop), nil
}

// ReplaceFunctionCode rebinds one function to newly compiled code. It fails
// with ErrPrerequisite if the function still has a blocking activation,
// leaving the code reference untouched.
func (e *Engine) ReplaceFunctionCode(info compile.FunctionInfo, fn *script.FunctionRecord) error {
	statuses := e.scanner.Check([]*script.FunctionRecord{fn}, nil, false)
	if statuses[0].Blocked() {
		conflict := &ActivationConflictError{
			Functions: []*script.FunctionRecord{fn},
			Statuses:  statuses,
		}

		return fmt.Errorf("%w: %w", ErrPrerequisite, conflict)
	}

	swap.ReplaceFunctionCode(info, fn)

	return nil
}

// ReplaceScriptSource overwrites the script source, snapshotting the prior
// version under keepOldAs when non-empty. Returns the snapshot or nil.
func (e *Engine) ReplaceScriptSource(s *script.Script, newSource, keepOldAs string) (*script.Snapshot, error) {
	defer s.BeginEdit()()

	return s.ReplaceSource(newSource, keepOldAs)
}

// PatchFunctionPositions remaps the records' stored offsets through the
// change regions, in place.
func (e *Engine) PatchFunctionPositions(fns []*script.FunctionRecord, regions []position.ChangeRegion) error {
	return swap.PatchFunctionPositions(fns, regions)
}

// ReplaceRefToNestedFunction rewrites parent's single embedded reference to
// orig so it points at subst. Returns false when parent holds no such
// reference.
func (e *Engine) ReplaceRefToNestedFunction(parent, orig, subst *script.FunctionRecord) bool {
	return parent.ReplaceNestedRef(orig, subst)
}

// SetFunctionScript repoints a function's owning script, keeping both
// scripts' record lists consistent.
func (e *Engine) SetFunctionScript(fn *script.FunctionRecord, s *script.Script) error {
	return script.SetFunctionScript(fn, s)
}

// FixupScript reconciles the script's records after an external literal id
// renumbering pass.
func (e *Engine) FixupScript(s *script.Script, maxLiteralID int) error {
	return s.Fixup(maxLiteralID)
}

// FunctionSourceUpdated re-slots one record after its literal id changed.
func (e *Engine) FunctionSourceUpdated(fn *script.FunctionRecord, newLiteralID int) error {
	s := fn.Script()
	if s == nil {
		return ErrInputShape
	}

	return s.FunctionSourceUpdated(fn, newLiteralID)
}
