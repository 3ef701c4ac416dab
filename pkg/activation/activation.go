// Package activation classifies functions targeted by a live edit according
// to the call frames currently executing them. Stack walking is an injected
// capability: the host runtime supplies a snapshot of every thread's frames
// taken under its stop-the-world guarantee, and the scanner never re-checks
// staleness.
package activation

import (
	"log/slog"

	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// Status is the per-function patchability verdict for one edit attempt.
// It is computed per attempt and never persisted.
type Status int

const (
	// Available means no live frame references the function.
	Available Status = iota
	// BlockedActive means a live frame references the function and it was
	// not (or could not be) dropped.
	BlockedActive
	// BlockedActiveGenerator means the function's only path to patching runs
	// through a suspended generator/coroutine frame whose captured state
	// cannot be discarded safely.
	BlockedActiveGenerator
	// Patched marks a function whose code was swapped during commit.
	Patched
	// ReplacedOnActiveStack means the function's frame was force-dropped
	// and the function was swapped while on an active stack.
	ReplacedOnActiveStack
)

var statusNames = map[Status]string{
	Available:              "AVAILABLE",
	BlockedActive:          "BLOCKED_ACTIVE",
	BlockedActiveGenerator: "BLOCKED_ON_ACTIVE_GENERATOR",
	Patched:                "PATCHED",
	ReplacedOnActiveStack:  "REPLACED_ON_ACTIVE_STACK",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}

// Blocked reports whether the status forbids patching the function.
func (s Status) Blocked() bool {
	return s == BlockedActive || s == BlockedActiveGenerator
}

// Frame is one live call frame in the host runtime's stack snapshot.
type Frame struct {
	// Thread identifies the thread of execution owning the frame.
	Thread int

	// Depth is the frame's distance from the top of its stack; 0 is the
	// currently executing frame.
	Depth int

	// Function is the record the frame is executing.
	Function *script.FunctionRecord

	// Suspended marks a generator/coroutine frame parked mid-execution.
	Suspended bool

	// UnderNative marks a frame with non-unwindable native code above it.
	UnderNative bool
}

// FrameWalker enumerates every call frame on every thread. The snapshot
// must be taken atomically with respect to new frame creation.
type FrameWalker interface {
	Frames() []Frame
}

// FrameDropper terminates a single frame's execution, unwinding to its
// caller and discarding local state. Optional: hosts that cannot unwind
// frames simply leave blocked functions blocked.
type FrameDropper interface {
	DropFrame(f Frame) error
}

// Scanner classifies edit targets against the current stack snapshot.
type Scanner struct {
	walker  FrameWalker
	dropper FrameDropper
	logger  *slog.Logger
}

// NewScanner creates a scanner over the given stack-walking capability.
// dropper may be nil when the host cannot unwind frames.
func NewScanner(walker FrameWalker, dropper FrameDropper, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{walker: walker, dropper: dropper, logger: logger}
}
