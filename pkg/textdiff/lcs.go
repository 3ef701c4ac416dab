package textdiff

// maxDPCells bounds the token LCS table. Chunks whose token counts would
// exceed it fall back to a single whole-chunk region, which is always a
// correct (if coarser) answer.
const maxDPCells = 1 << 22

// tokenPair records one matched token: oldToks[oldIndex] equals
// newToks[newIndex] textually.
type tokenPair struct {
	oldIndex int
	newIndex int
}

// matchTokens computes the longest common subsequence of the two token
// streams, comparing tokens by their text. Ties are broken toward the
// earliest-starting match so the output is stable across runs.
func matchTokens(oldSpan, newSpan string, oldToks, newToks []token) []tokenPair {
	n, m := len(oldToks), len(newToks)
	if n == 0 || m == 0 || n*m > maxDPCells {
		return nil
	}

	// lcs[i][j] is the LCS length of oldToks[i:] and newToks[j:].
	lcs := make([][]int32, n+1)
	for i := range lcs {
		lcs[i] = make([]int32, m+1)
	}

	same := func(i, j int) bool {
		a := oldToks[i]
		b := newToks[j]

		return oldSpan[a.begin:a.end] == newSpan[b.begin:b.end]
	}

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if same(i, j) {
				lcs[i][j] = lcs[i+1][j+1] + 1

				continue
			}

			lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
		}
	}

	pairs := make([]tokenPair, 0, lcs[0][0])

	// Forward walk: taking a match as soon as it preserves the optimum picks
	// the earliest-starting common subsequence.
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case same(i, j) && lcs[i][j] == lcs[i+1][j+1]+1:
			pairs = append(pairs, tokenPair{oldIndex: i, newIndex: j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			i++
		default:
			j++
		}
	}

	return pairs
}
