// Package textdiff computes the minimal ordered list of change regions
// between two source texts. The comparison runs in two phases: a coarse
// line-granularity diff bounds the affected spans, then a token-level pass
// inside each span shrinks it to the true minimal edit. Applying the result
// to the old text reproduces the new text exactly.
package textdiff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/liveedit/pkg/position"
)

// chunk is a differing span in both coordinate systems, produced by the
// line-level phase.
type chunk struct {
	oldBegin, oldEnd int
	newBegin, newEnd int
}

// Compare returns the sorted, non-touching change regions that transform
// oldText into newText. Identical texts yield an empty list; texts with no
// common structure yield a single region spanning both full lengths.
func Compare(oldText, newText string) []position.ChangeRegion {
	if oldText == newText {
		return nil
	}

	var regions []position.ChangeRegion

	for _, c := range lineChunks(oldText, newText) {
		regions = append(regions, refineChunk(oldText, newText, c)...)
	}

	return normalize(regions)
}

// lineChunks runs the coarse line-level diff and returns maximal differing
// spans. Lines are compared as atomic tokens through diffmatchpatch's
// line-to-rune encoding, which keeps the underlying Myers diff fast and
// deterministic for typical edits.
func lineChunks(oldText, newText string) []chunk {
	dmp := diffmatchpatch.New()

	src, dst, lineArray := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffMainRunes(src, dst, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var (
		chunks         []chunk
		oldPos, newPos int
		open           bool
		current        chunk
	)

	flush := func() {
		if open {
			current.oldEnd = oldPos
			current.newEnd = newPos
			chunks = append(chunks, current)
			open = false
		}
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()

			oldPos += len(d.Text)
			newPos += len(d.Text)
		case diffmatchpatch.DiffDelete:
			if !open {
				current = chunk{oldBegin: oldPos, newBegin: newPos}
				open = true
			}

			oldPos += len(d.Text)
		case diffmatchpatch.DiffInsert:
			if !open {
				current = chunk{oldBegin: oldPos, newBegin: newPos}
				open = true
			}

			newPos += len(d.Text)
		}
	}

	flush()

	return chunks
}

// refineChunk narrows one line-level chunk with a token LCS and emits the
// change regions between matched tokens, in absolute coordinates.
func refineChunk(oldText, newText string, c chunk) []position.ChangeRegion {
	oldSpan := oldText[c.oldBegin:c.oldEnd]
	newSpan := newText[c.newBegin:c.newEnd]

	oldToks := tokenize(oldSpan)
	newToks := tokenize(newSpan)

	pairs := matchTokens(oldSpan, newSpan, oldToks, newToks)

	var regions []position.ChangeRegion

	prevOldEnd, prevNewEnd := 0, 0

	emit := func(oldEnd, newEnd int) {
		if oldEnd > prevOldEnd || newEnd > prevNewEnd {
			regions = append(regions, position.ChangeRegion{
				OldBegin: c.oldBegin + prevOldEnd,
				OldEnd:   c.oldBegin + oldEnd,
				NewEnd:   c.newBegin + newEnd,
			})
		}
	}

	for _, p := range pairs {
		oldTok := oldToks[p.oldIndex]
		newTok := newToks[p.newIndex]

		emit(oldTok.begin, newTok.begin)

		prevOldEnd = oldTok.end
		prevNewEnd = newTok.end
	}

	emit(len(oldSpan), len(newSpan))

	return regions
}

// normalize merges touching regions so the output satisfies the
// non-adjacency contract.
func normalize(regions []position.ChangeRegion) []position.ChangeRegion {
	if len(regions) == 0 {
		return nil
	}

	out := regions[:1]

	for _, r := range regions[1:] {
		last := &out[len(out)-1]
		if r.OldBegin <= last.OldEnd {
			last.OldEnd = r.OldEnd
			last.NewEnd = r.NewEnd

			continue
		}

		out = append(out, r)
	}

	return out
}

// Apply reconstructs the new text from the old text, the change regions, and
// the new text's replacement spans. It exists for the round-trip law and for
// presenting region contents in reports; newText supplies the bytes the
// regions point into.
func Apply(oldText string, regions []position.ChangeRegion, newText string) string {
	var b strings.Builder

	oldPos := 0
	delta := 0

	for _, r := range regions {
		b.WriteString(oldText[oldPos:r.OldBegin])
		b.WriteString(newText[r.NewBegin(delta):r.NewEnd])

		oldPos = r.OldEnd
		delta += r.NewLen(delta) - r.OldLen()
	}

	b.WriteString(oldText[oldPos:])

	return b.String()
}
