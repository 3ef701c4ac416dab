package textdiff

// token is a half-open [begin, end) span within a chunk. Tokens are either
// identifier runs, whitespace runs, or single non-word characters, so that
// renaming an identifier or reindenting a block moves region boundaries to
// token edges instead of arbitrary character positions.
type token struct {
	begin int
	end   int
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// tokenize splits s into identifier runs, whitespace runs, and single
// remaining characters.
func tokenize(s string) []token {
	var toks []token

	i := 0
	for i < len(s) {
		start := i

		switch {
		case isWordByte(s[i]):
			for i < len(s) && isWordByte(s[i]) {
				i++
			}
		case isSpaceByte(s[i]):
			for i < len(s) && isSpaceByte(s[i]) {
				i++
			}
		default:
			i++
		}

		toks = append(toks, token{begin: start, end: i})
	}

	return toks
}
