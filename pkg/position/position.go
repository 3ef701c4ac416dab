// Package position remaps absolute source offsets through a sorted list of
// change regions produced by a text diff. Offsets are 0-indexed character
// positions into the old and new source texts.
package position

import "errors"

// ErrUnsorted reports a region list that is not sorted ascending by OldBegin
// or contains overlapping regions. Such a list indicates a differ defect and
// must abort the caller's edit.
var ErrUnsorted = errors.New("position: change regions unsorted or overlapping")

// ChangeRegion is a textual interval [OldBegin, OldEnd) in old-text
// coordinates that was replaced by the interval ending at NewEnd in new-text
// coordinates. Regions are sorted by OldBegin and never touch.
type ChangeRegion struct {
	OldBegin int
	OldEnd   int
	NewEnd   int
}

// OldLen returns the length of the replaced old-text interval.
func (r ChangeRegion) OldLen() int { return r.OldEnd - r.OldBegin }

// NewBegin returns the region's start in new-text coordinates. Text outside
// regions is identical in both versions, so the start shifts only by the
// cumulative delta of regions before it; for a single region that delta is
// zero relative to its own OldBegin.
func (r ChangeRegion) NewBegin(deltaBefore int) int { return r.OldBegin + deltaBefore }

// NewLen returns the length of the replacement new-text interval, given the
// cumulative delta of all regions before this one.
func (r ChangeRegion) NewLen(deltaBefore int) int { return r.NewEnd - r.NewBegin(deltaBefore) }

// Translate maps an offset in old-text coordinates to new-text coordinates.
//
// Offsets before the first region are unchanged. Offsets at or after a
// region's OldEnd shift by the cumulative length delta of all regions
// entirely before them. Offsets strictly inside a region have no stable
// mapping (the text they pointed into was rewritten) and clamp to that
// region's NewEnd.
func Translate(offset int, regions []ChangeRegion) int {
	delta := 0

	for _, r := range regions {
		if offset < r.OldBegin {
			break
		}

		if offset < r.OldEnd {
			return r.NewEnd
		}

		delta += (r.NewEnd - r.NewBegin(delta)) - r.OldLen()
	}

	return offset + delta
}

// Validate checks that regions are sorted ascending by OldBegin, internally
// well-formed, and non-touching. The differ guarantees this shape; Validate
// exists so downstream consumers can fail fast instead of corrupting
// function ranges.
func Validate(regions []ChangeRegion) error {
	prevEnd := -1

	for _, r := range regions {
		if r.OldBegin <= prevEnd || r.OldEnd < r.OldBegin {
			return ErrUnsorted
		}

		prevEnd = r.OldEnd
	}

	return nil
}
