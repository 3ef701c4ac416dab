package liveedit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/liveedit/pkg/activation"
	"github.com/Sumatoshi-tech/liveedit/pkg/compile"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

type stubWalker struct {
	frames []activation.Frame
}

func (w *stubWalker) Frames() []activation.Frame { return w.frames }

type stubDropper struct {
	dropped []activation.Frame
}

func (d *stubDropper) DropFrame(f activation.Frame) error {
	d.dropped = append(d.dropped, f)

	return nil
}

// newTestScript compiles the source and builds a script whose records mirror
// the compiler's function-literal tree, the way a host registers a freshly
// compiled script.
func newTestScript(t *testing.T, name, source string) (*script.Script, []*script.FunctionRecord) {
	t.Helper()

	infos, err := compile.NewTreeSitter().Compile(name, source)
	require.NoError(t, err)

	s := script.New(name, source)
	records := make([]*script.FunctionRecord, len(infos))

	for i, info := range infos {
		rec := &script.FunctionRecord{
			Name:      info.Name,
			Start:     info.Start,
			End:       info.End,
			LiteralID: info.LiteralID,
			Code:      info.Code,
		}
		require.NoError(t, s.AddFunction(rec))

		records[i] = rec

		if info.ParentIndex >= 0 {
			records[info.ParentIndex].AddNested(rec)
		}
	}

	return s, records
}

func newTestEngine(walker *stubWalker, dropper activation.FrameDropper) *Engine {
	return New(compile.NewTreeSitter(), walker, dropper)
}

func findRecord(t *testing.T, s *script.Script, name string) *script.FunctionRecord {
	t.Helper()

	for _, fn := range s.Functions() {
		if fn.Name == name {
			return fn
		}
	}

	t.Fatalf("no record named %q", name)

	return nil
}

func TestApply_SimpleBodyChange(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]
	oldFingerprint := f.Code.Fingerprint

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, newSrc, Options{})

	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, newSrc, s.Source())
	assert.NotEmpty(t, res.Regions)
	assert.Positive(t, res.Patched)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Deleted)
	assert.Nil(t, res.Snapshot)

	// Same record object, new code.
	assert.Same(t, f, findRecord(t, s, "f"))
	assert.NotEqual(t, oldFingerprint, f.Code.Fingerprint)
	assert.Equal(t, []byte("function f() { return 2; }"), f.Code.Body)
}

func TestApply_NoChangeIsNoOp(t *testing.T) {
	t.Parallel()

	src := "function f() { return 1; }\n"
	s, _ := newTestScript(t, "test.js", src)

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, src, Options{})

	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Empty(t, res.Regions)
	assert.Empty(t, res.Reports)
	assert.Equal(t, src, s.Source())
}

func TestApply_KeepOldAsSnapshotsPreviousVersion(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, _ := newTestScript(t, "test.js", oldSrc)

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, newSrc, Options{KeepOldAs: "test.js (old)"})

	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "test.js (old)", res.Snapshot.Name())
	assert.Same(t, res.Snapshot, s.PrevVersion())

	restored, err := res.Snapshot.Source()
	require.NoError(t, err)
	assert.Equal(t, oldSrc, restored)
}

func TestApply_BlockedWithoutForceLeavesScriptUntouched(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]
	oldFingerprint := f.Code.Fingerprint

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	e := newTestEngine(walker, nil)

	_, err := e.Apply(context.Background(), s, newSrc, Options{})

	var conflict *ActivationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Error(), "f (BLOCKED_ACTIVE)")

	// Zero mutation on abort.
	assert.Equal(t, oldSrc, s.Source())
	assert.Equal(t, oldFingerprint, f.Code.Fingerprint)
}

func TestApply_ForceDropReplacesOnActiveStack(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	dropper := &stubDropper{}
	e := newTestEngine(walker, dropper)

	res, err := e.Apply(context.Background(), s, newSrc, Options{ForceDrop: true})

	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Len(t, dropper.dropped, 1)

	var forF *FunctionReport

	for i := range res.Reports {
		if res.Reports[i].Function == f {
			forF = &res.Reports[i]
		}
	}

	require.NotNil(t, forF)
	assert.Equal(t, activation.ReplacedOnActiveStack, forF.Status)
}

func TestApply_SuspendedGeneratorBlocksEvenWithForce(t *testing.T) {
	t.Parallel()

	oldSrc := "function* gen() { yield 1; }\n"
	newSrc := "function* gen() { yield 2; }\n"

	s, _ := newTestScript(t, "test.js", oldSrc)
	gen := findRecord(t, s, "gen")

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: gen, Suspended: true},
	}}
	e := newTestEngine(walker, &stubDropper{})

	_, err := e.Apply(context.Background(), s, newSrc, Options{ForceDrop: true})

	var conflict *ActivationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Error(), "BLOCKED_ON_ACTIVE_GENERATOR")
	assert.Equal(t, oldSrc, s.Source())
}

func TestApply_DeletedInnerFunctionClearsNestedRef(t *testing.T) {
	t.Parallel()

	oldSrc := "function outer() {\n  function inner() { return 1; }\n  return inner;\n}\n"
	newSrc := "function outer() {\n  return 1;\n}\n"

	s, _ := newTestScript(t, "test.js", oldSrc)
	outer := findRecord(t, s, "outer")
	inner := findRecord(t, s, "inner")

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, newSrc, Options{})

	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Deleted)

	// The deleted record is detached, and the reference to it is cleared
	// rather than left dangling.
	assert.Nil(t, inner.Script())
	assert.Equal(t, []*script.FunctionRecord{nil}, outer.Nested())
	assert.Nil(t, s.FunctionByLiteral(inner.LiteralID))
}

func TestApply_DeletedFunctionNeverForceDropped(t *testing.T) {
	t.Parallel()

	oldSrc := "function outer() {\n  function inner() { return 1; }\n  return inner;\n}\n"
	newSrc := "function outer() {\n  return 1;\n}\n"

	s, _ := newTestScript(t, "test.js", oldSrc)
	inner := findRecord(t, s, "inner")

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: inner},
	}}
	dropper := &stubDropper{}
	e := newTestEngine(walker, dropper)

	_, err := e.Apply(context.Background(), s, newSrc, Options{ForceDrop: true})

	var conflict *ActivationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Empty(t, dropper.dropped)
	assert.Equal(t, oldSrc, s.Source())
}

func TestApply_InsertedFunctionGetsFreshLiteralID(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 1; }\nfunction g() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	root, f := records[0], records[1]
	maxBefore := s.MaxLiteralID()

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, newSrc, Options{})

	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Inserted)

	g := findRecord(t, s, "g")
	assert.Greater(t, g.LiteralID, maxBefore)
	assert.Same(t, s, g.Script())
	assert.Contains(t, root.Nested(), g)

	// f is untouched by the append: same offsets, same code.
	assert.Equal(t, 0, f.Start)
	assert.Equal(t, []byte("function f() { return 1; }"), f.Code.Body)
}

func TestApply_UnchangedFunctionOnlyMoves(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\nfunction tail() { return 9; }\n"
	newSrc := "function f() { return 111; }\nfunction tail() { return 9; }\n"

	s, _ := newTestScript(t, "test.js", oldSrc)
	tail := findRecord(t, s, "tail")
	oldCode := tail.Code

	e := newTestEngine(&stubWalker{}, nil)

	res, err := e.Apply(context.Background(), s, newSrc, Options{})

	require.NoError(t, err)
	assert.True(t, res.Committed)

	// tail's body text never changed; its code stays bound and its offsets
	// shift by the edit delta.
	assert.Same(t, oldCode, tail.Code)
	assert.Equal(t, "function tail() { return 9; }", newSrc[tail.Start:tail.End])
}

func TestApply_CheckOnlyReportsWithoutMutating(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]
	oldFingerprint := f.Code.Fingerprint

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	dropper := &stubDropper{}
	e := newTestEngine(walker, dropper)

	res, err := e.Apply(context.Background(), s, newSrc, Options{CheckOnly: true, ForceDrop: true})

	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.NotEmpty(t, res.Reports)

	// Check-only never drops frames, even when force-drop is requested.
	assert.Empty(t, dropper.dropped)
	assert.Equal(t, oldSrc, s.Source())
	assert.Equal(t, oldFingerprint, f.Code.Fingerprint)

	var forF *FunctionReport

	for i := range res.Reports {
		if res.Reports[i].Function == f {
			forF = &res.Reports[i]
		}
	}

	require.NotNil(t, forF)
	assert.Equal(t, activation.BlockedActive, forF.Status)
}

func TestApply_CheckOnlyIsIdempotent(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"
	newSrc := "function f() { return 2; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	e := newTestEngine(walker, nil)

	first, err := e.Apply(context.Background(), s, newSrc, Options{CheckOnly: true})
	require.NoError(t, err)

	second, err := e.Apply(context.Background(), s, newSrc, Options{CheckOnly: true})
	require.NoError(t, err)

	require.Len(t, second.Reports, len(first.Reports))

	for i := range first.Reports {
		assert.Equal(t, first.Reports[i].Status, second.Reports[i].Status)
	}
}

func TestApply_SyntaxErrorAbortsWithOffset(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"

	s, _ := newTestScript(t, "test.js", oldSrc)

	e := newTestEngine(&stubWalker{}, nil)

	_, err := e.Apply(context.Background(), s, "function f( {\n", Options{})

	var compileErr *compile.Error
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "test.js", compileErr.ScriptName)
	assert.Equal(t, oldSrc, s.Source())
}

func TestCheckActivations_ShapeMismatch(t *testing.T) {
	t.Parallel()

	_, records := newTestScript(t, "test.js", "function f() { return 1; }\n")

	e := newTestEngine(&stubWalker{}, nil)

	_, err := e.CheckActivations(records, records[:1], false)

	require.ErrorIs(t, err, ErrInputShape)
}

func TestCheckActivations_NilReplacementMarksDeletion(t *testing.T) {
	t.Parallel()

	s, records := newTestScript(t, "test.js", "function f() { return 1; }\n")
	f := records[1]

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	e := newTestEngine(walker, &stubDropper{})

	// Deleted functions stay blocked even under force-drop.
	statuses, err := e.CheckActivations(
		[]*script.FunctionRecord{f},
		[]*script.FunctionRecord{nil},
		true,
	)

	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, activation.BlockedActive, statuses[0])
	assert.Same(t, s, f.Script())
}

func TestReplaceFunctionCode_BlockedFailsWithPrerequisite(t *testing.T) {
	t.Parallel()

	oldSrc := "function f() { return 1; }\n"

	s, records := newTestScript(t, "test.js", oldSrc)
	f := records[1]
	oldCode := f.Code

	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: f},
	}}
	e := newTestEngine(walker, nil)

	infos, err := compile.NewTreeSitter().Compile(s.Name(), "function f() { return 2; }\n")
	require.NoError(t, err)

	err = e.ReplaceFunctionCode(infos[1], f)

	require.ErrorIs(t, err, ErrPrerequisite)

	var conflict *ActivationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Same(t, oldCode, f.Code)
}

func TestReplaceFunctionCode_AvailableRebinds(t *testing.T) {
	t.Parallel()

	s, records := newTestScript(t, "test.js", "function f() { return 1; }\n")
	f := records[1]

	e := newTestEngine(&stubWalker{}, nil)

	infos, err := compile.NewTreeSitter().Compile(s.Name(), "function f() { return 2; }\n")
	require.NoError(t, err)

	require.NoError(t, e.ReplaceFunctionCode(infos[1], f))
	assert.Equal(t, []byte("function f() { return 2; }"), f.Code.Body)
}

func TestDiff_FiresUsageTrackerOnChangesOnly(t *testing.T) {
	t.Parallel()

	var tracked []string

	e := New(compile.NewTreeSitter(), &stubWalker{}, nil,
		WithUsageTracker(func(feature string) { tracked = append(tracked, feature) }))

	e.Diff("same", "same")
	assert.Empty(t, tracked)

	regions := e.Diff("function f() { return 1; }", "function f() { return 2; }")
	assert.NotEmpty(t, regions)
	assert.Equal(t, []string{FeatureLiveEdit}, tracked)
}

func TestApply_SecondEditStacksOnFirst(t *testing.T) {
	t.Parallel()

	v1 := "function f() { return 1; }\n"
	v2 := "function f() { return 2; }\n"
	v3 := "function f() { return 2; }\nfunction g() { return 3; }\n"

	s, _ := newTestScript(t, "test.js", v1)

	e := newTestEngine(&stubWalker{}, nil)

	_, err := e.Apply(context.Background(), s, v2, Options{})
	require.NoError(t, err)

	res, err := e.Apply(context.Background(), s, v3, Options{})
	require.NoError(t, err)

	assert.True(t, res.Committed)
	assert.Equal(t, v3, s.Source())
	assert.Equal(t, 1, res.Inserted)

	f := findRecord(t, s, "f")
	g := findRecord(t, s, "g")
	assert.Equal(t, []byte("function f() { return 2; }"), f.Code.Body)
	assert.NotEqual(t, f.LiteralID, g.LiteralID)
}

func TestApply_AllOrNothingOnPartialBlock(t *testing.T) {
	t.Parallel()

	oldSrc := "function a() { return 1; }\nfunction b() { return 2; }\n"
	newSrc := "function a() { return 10; }\nfunction b() { return 20; }\n"

	s, _ := newTestScript(t, "test.js", oldSrc)
	a := findRecord(t, s, "a")
	b := findRecord(t, s, "b")
	aCode, bCode := a.Code, b.Code

	// Only b is on a stack; a alone being patchable must not commit half
	// an edit.
	walker := &stubWalker{frames: []activation.Frame{
		{Thread: 1, Depth: 0, Function: b},
	}}
	e := newTestEngine(walker, nil)

	_, err := e.Apply(context.Background(), s, newSrc, Options{})

	var conflict *ActivationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, oldSrc, s.Source())
	assert.Same(t, aCode, a.Code)
	assert.Same(t, bCode, b.Code)
}

func TestStatusFor_Classification(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "blocked", statusFor(nil, &ActivationConflictError{}))
	assert.Equal(t, "error", statusFor(nil, errors.New("boom")))
	assert.Equal(t, "committed", statusFor(&Result{Committed: true}, nil))
	assert.Equal(t, "no_change", statusFor(&Result{}, nil))
}
