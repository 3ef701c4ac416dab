package script

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ErrSnapshotCorrupt reports a snapshot whose compressed source no longer
// decompresses to its recorded length.
var ErrSnapshotCorrupt = errors.New("script: snapshot source corrupt")

// FunctionMeta is the per-function metadata a snapshot keeps: just enough to
// answer future diff queries against the prior version.
type FunctionMeta struct {
	Name      string
	Start     int
	End       int
	LiteralID int
}

// Snapshot is an immutable copy of a script version taken before its source
// was replaced. The source text is LZ4 block-compressed; incompressible
// sources are stored raw.
type Snapshot struct {
	id         int64
	name       string
	compressed []byte
	rawLen     int
	raw        bool
	functions  []FunctionMeta
}

// ID returns the snapshot's own script id.
func (sn *Snapshot) ID() int64 { return sn.id }

// Name returns the label the snapshot was kept under.
func (sn *Snapshot) Name() string { return sn.name }

// Functions returns the snapshotted per-function metadata.
func (sn *Snapshot) Functions() []FunctionMeta { return sn.functions }

// SourceLen returns the uncompressed source length in bytes.
func (sn *Snapshot) SourceLen() int { return sn.rawLen }

// Source decompresses and returns the snapshotted source text.
func (sn *Snapshot) Source() (string, error) {
	if sn.raw {
		return string(sn.compressed), nil
	}

	buf := make([]byte, sn.rawLen)

	n, err := lz4.UncompressBlock(sn.compressed, buf)
	if err != nil {
		return "", fmt.Errorf("uncompress snapshot: %w", err)
	}

	if n != sn.rawLen {
		return "", fmt.Errorf("%w: got %d bytes, want %d", ErrSnapshotCorrupt, n, sn.rawLen)
	}

	return string(buf), nil
}

// compressSource LZ4-compresses src, falling back to a raw copy when the
// block does not shrink.
func compressSource(src string) (data []byte, raw bool) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))

	written, err := lz4.CompressBlock([]byte(src), buf, nil)
	if err != nil || written == 0 || written >= len(src) {
		return []byte(src), true
	}

	return buf[:written], false
}

// ReplaceSource overwrites the script's source text. When keepOldAs names a
// prior-version label, the current state is cloned into an immutable
// snapshot first and recorded as the script's previous version; the snapshot
// is returned. With an empty keepOldAs no snapshot is made and nil is
// returned.
//
// Function record offsets are not touched here: position patching is a
// separate operation so the caller controls the order of mutations within a
// commit.
func (s *Script) ReplaceSource(newText, keepOldAs string) (*Snapshot, error) {
	var sn *Snapshot

	if keepOldAs != "" {
		metas := make([]FunctionMeta, 0, len(s.records))

		for _, fn := range s.records {
			if fn == nil {
				continue
			}

			metas = append(metas, FunctionMeta{
				Name:      fn.Name,
				Start:     fn.Start,
				End:       fn.End,
				LiteralID: fn.LiteralID,
			})
		}

		data, raw := compressSource(s.source)

		sn = &Snapshot{
			id:         nextScriptID.Add(1),
			name:       keepOldAs,
			compressed: data,
			rawLen:     len(s.source),
			raw:        raw,
			functions:  metas,
		}

		s.prev = sn
	}

	s.source = newText

	return sn, nil
}
