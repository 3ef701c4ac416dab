// Package script holds the live-edit data model: scripts, their function
// records, and the version manager that snapshots and rebinds them across
// edits. A Script owns its FunctionRecords incrementally, so answering
// "which functions belong to this script" never requires a heap scan.
package script

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Sentinel errors for record bookkeeping.
var (
	ErrRangeOutOfBounds = errors.New("script: function range exceeds source length")
	ErrLiteralTaken     = errors.New("script: literal id already occupied")
	ErrLiteralNegative  = errors.New("script: negative literal id")
	ErrNotOwned         = errors.New("script: function record not owned by script")
)

// nextScriptID allocates process-wide monotonically increasing script ids.
var nextScriptID atomic.Int64

// Code is a compiled-code object. The engine treats it as an opaque payload
// produced by the compiler collaborator; equality of Fingerprint means the
// compiled bodies are interchangeable.
type Code struct {
	Body        []byte
	Fingerprint uint64
}

// FunctionRecord describes one function literal of a script: its name, its
// [Start, End) offsets into the script source, the literal id that tracks it
// across edits, its bound compiled code, and the nested functions its code
// embeds direct references to.
type FunctionRecord struct {
	Name      string
	Start     int
	End       int
	LiteralID int
	Code      *Code

	nested []*FunctionRecord
	script *Script
}

// Script returns the script this record is currently bound to, or nil for a
// detached record.
func (f *FunctionRecord) Script() *Script { return f.script }

// Nested returns the record's direct nested-function references. Slots
// cleared after a deletion are nil. The returned slice is a copy.
func (f *FunctionRecord) Nested() []*FunctionRecord {
	out := make([]*FunctionRecord, len(f.nested))
	copy(out, f.nested)

	return out
}

// AddNested appends a direct nested-function reference.
func (f *FunctionRecord) AddNested(child *FunctionRecord) {
	f.nested = append(f.nested, child)
}

// ReplaceNestedRef rewrites the single slot pointing at orig to point at
// subst instead. A nil subst clears the slot, which is how references to
// deleted functions are kept from dangling. Returns false when no slot
// matched.
func (f *FunctionRecord) ReplaceNestedRef(orig, subst *FunctionRecord) bool {
	for i, ref := range f.nested {
		if ref == orig && ref != nil {
			f.nested[i] = subst

			return true
		}
	}

	return false
}

// Script is one script's identity, source text, and function records.
// Records are slotted by literal id, mirroring the dense literal id space
// the compiler assigns in pre-order.
type Script struct {
	id     int64
	name   string
	source string

	// records is indexed by literal id; holes are nil.
	records []*FunctionRecord

	prev *Snapshot

	// edit serializes whole edits against this script. Individual accessors
	// are safe under the host's single-mutator guarantee and do not lock.
	edit sync.Mutex
}

// New creates a script with a fresh monotonically increasing id.
func New(name, source string) *Script {
	return &Script{
		id:     nextScriptID.Add(1),
		name:   name,
		source: source,
	}
}

// ID returns the script's identity.
func (s *Script) ID() int64 { return s.id }

// Name returns the script's name.
func (s *Script) Name() string { return s.name }

// Source returns the current source text.
func (s *Script) Source() string { return s.source }

// PrevVersion returns the snapshot taken by the most recent ReplaceSource
// call that requested one, or nil.
func (s *Script) PrevVersion() *Snapshot { return s.prev }

// BeginEdit takes the per-script edit lock and returns the release func.
// No two edits may run concurrently against the same script.
func (s *Script) BeginEdit() func() {
	s.edit.Lock()

	return s.edit.Unlock
}

// AddFunction slots a record by its literal id and binds it to the script.
func (s *Script) AddFunction(fn *FunctionRecord) error {
	if fn.LiteralID < 0 {
		return fmt.Errorf("%w: %d", ErrLiteralNegative, fn.LiteralID)
	}

	if fn.Start < 0 || fn.End < fn.Start || fn.End > len(s.source) {
		return fmt.Errorf("%w: %q [%d,%d) in %d bytes", ErrRangeOutOfBounds, fn.Name, fn.Start, fn.End, len(s.source))
	}

	for fn.LiteralID >= len(s.records) {
		s.records = append(s.records, nil)
	}

	if s.records[fn.LiteralID] != nil {
		return fmt.Errorf("%w: %d", ErrLiteralTaken, fn.LiteralID)
	}

	s.records[fn.LiteralID] = fn
	fn.script = s

	return nil
}

// Functions returns the script's records in literal id order, skipping holes.
func (s *Script) Functions() []*FunctionRecord {
	out := make([]*FunctionRecord, 0, len(s.records))

	for _, fn := range s.records {
		if fn != nil {
			out = append(out, fn)
		}
	}

	return out
}

// FunctionByLiteral returns the record slotted at the given literal id, or nil.
func (s *Script) FunctionByLiteral(id int) *FunctionRecord {
	if id < 0 || id >= len(s.records) {
		return nil
	}

	return s.records[id]
}

// MaxLiteralID returns the highest occupied literal id, or -1 for a script
// with no records.
func (s *Script) MaxLiteralID() int {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i] != nil {
			return i
		}
	}

	return -1
}

// NextLiteralID returns a fresh literal id strictly greater than every
// occupied one.
func (s *Script) NextLiteralID() int { return s.MaxLiteralID() + 1 }

// remove unbinds a record from the script's slot table.
func (s *Script) remove(fn *FunctionRecord) {
	if fn.LiteralID >= 0 && fn.LiteralID < len(s.records) && s.records[fn.LiteralID] == fn {
		s.records[fn.LiteralID] = nil
	}

	fn.script = nil
}

// SetFunctionScript repoints a function's owning script. The record leaves
// its previous script's slot table (if any) and enters the new one, so a
// record's script pointer never disagrees with that script's own list.
// A nil script detaches the record.
func SetFunctionScript(fn *FunctionRecord, s *Script) error {
	if fn.script != nil {
		fn.script.remove(fn)
	}

	if s == nil {
		return nil
	}

	if s.FunctionByLiteral(fn.LiteralID) != nil {
		fn.LiteralID = s.NextLiteralID()
	}

	return s.AddFunction(fn)
}

// Fixup reconciles the script's records to a renumbered literal id space.
// The slot table is rebuilt at size maxLiteralID+1 and every record re-slots
// at its (already reassigned) literal id. Records whose id falls outside the
// new space are detached rather than silently kept in stale slots.
func (s *Script) Fixup(maxLiteralID int) error {
	if maxLiteralID < 0 {
		return fmt.Errorf("%w: %d", ErrLiteralNegative, maxLiteralID)
	}

	old := s.records
	s.records = make([]*FunctionRecord, maxLiteralID+1)

	for _, fn := range old {
		if fn == nil {
			continue
		}

		if fn.LiteralID < 0 || fn.LiteralID > maxLiteralID {
			fn.script = nil

			continue
		}

		if s.records[fn.LiteralID] != nil {
			return fmt.Errorf("%w: %d", ErrLiteralTaken, fn.LiteralID)
		}

		s.records[fn.LiteralID] = fn
	}

	return nil
}

// FunctionSourceUpdated re-slots one record after its literal id changed.
// The record must already belong to this script.
func (s *Script) FunctionSourceUpdated(fn *FunctionRecord, newLiteralID int) error {
	if fn.script != s {
		return fmt.Errorf("%w: %q vs script %d", ErrNotOwned, fn.Name, s.id)
	}

	if newLiteralID < 0 {
		return fmt.Errorf("%w: %d", ErrLiteralNegative, newLiteralID)
	}

	s.remove(fn)
	fn.LiteralID = newLiteralID

	return s.AddFunction(fn)
}
