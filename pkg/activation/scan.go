package activation

import "github.com/Sumatoshi-tech/liveedit/pkg/script"

// Check classifies each target function. deleted[i] marks targets with no
// replacement (the new source removed them); such functions can never be
// force-dropped because there is nothing to resume into. With
// forceDrop=false the scan performs no mutation and is idempotent, so a
// check-only pass before a destructive apply pass sees identical results.
//
// Force-dropping a frame is irreversible; callers must treat a forceDrop
// scan as part of the commit, not the check.
func (s *Scanner) Check(targets []*script.FunctionRecord, deleted []bool, forceDrop bool) []Status {
	statuses := make([]Status, len(targets))

	frames := s.walker.Frames()

	targetIdx := make(map[*script.FunctionRecord]int, len(targets))
	for i, fn := range targets {
		targetIdx[fn] = i
	}

	byThread := groupByThread(frames)

	for i, fn := range targets {
		fnFrames := framesOf(frames, fn)
		if len(fnFrames) == 0 {
			statuses[i] = Available

			continue
		}

		isDeleted := i < len(deleted) && deleted[i]

		statuses[i] = s.classify(fnFrames, byThread, targetIdx, isDeleted, forceDrop)
	}

	return statuses
}

// classify resolves one function's status from its live frames.
func (s *Scanner) classify(
	fnFrames []Frame,
	byThread map[int][]Frame,
	targetIdx map[*script.FunctionRecord]int,
	isDeleted, forceDrop bool,
) Status {
	if hasSuspended(fnFrames) {
		return BlockedActiveGenerator
	}

	if !forceDrop || isDeleted {
		return BlockedActive
	}

	for _, f := range fnFrames {
		if !s.droppable(f, byThread, targetIdx) {
			return BlockedActive
		}
	}

	// Every frame is unwindable; drop them top-down.
	for _, f := range fnFrames {
		if s.dropper == nil {
			return BlockedActive
		}

		if err := s.dropper.DropFrame(f); err != nil {
			s.logger.Warn("frame drop failed",
				"function", f.Function.Name,
				"thread", f.Thread,
				"depth", f.Depth,
				"err", err)

			return BlockedActive
		}
	}

	return ReplacedOnActiveStack
}

// droppable applies the unwinding policy: a frame can be discarded only when
// it is not pinned beneath native code and every frame above it on the same
// thread is itself a droppable edit target. Unwinding a frame necessarily
// unwinds everything above it first, so a non-target frame above pins the
// whole run.
func (s *Scanner) droppable(f Frame, byThread map[int][]Frame, targetIdx map[*script.FunctionRecord]int) bool {
	if f.UnderNative || f.Suspended {
		return false
	}

	for _, above := range byThread[f.Thread] {
		if above.Depth >= f.Depth {
			continue
		}

		if above.Suspended || above.UnderNative {
			return false
		}

		if _, targeted := targetIdx[above.Function]; !targeted {
			return false
		}
	}

	return true
}

func framesOf(frames []Frame, fn *script.FunctionRecord) []Frame {
	var out []Frame

	for _, f := range frames {
		if f.Function == fn {
			out = append(out, f)
		}
	}

	return out
}

func groupByThread(frames []Frame) map[int][]Frame {
	out := make(map[int][]Frame)

	for _, f := range frames {
		out[f.Thread] = append(out[f.Thread], f)
	}

	return out
}

func hasSuspended(frames []Frame) bool {
	for _, f := range frames {
		if f.Suspended {
			return true
		}
	}

	return false
}
