package postoffice

// Glob is the default pattern MatchFunc (C11): '?' matches exactly one
// byte, '*' matches any run of bytes (including empty), '[...]' is a
// character class (leading '^' inverts, leading ']' is a literal, 'a-b'
// is an inclusive range with endpoints auto-swapped if reversed), '\x'
// matches the literal byte x, and any other byte matches itself.
//
// The algorithm is a direct port of facil.io's single-backtrack glob
// matcher: it remembers only the most recent '*' and the candidate
// position one past where it started matching, so a mismatch backtracks
// to that bookmark and retries one byte later in candidate — no
// multi-level backtracking is ever needed.
func Glob(pattern, candidate string) bool {
	pat := []byte(pattern)
	str := []byte(candidate)

	si, pi := 0, 0
	hasBack := false
	var backPatIdx, backStrIdx int

	for si < len(str) {
		c := str[si]
		si++

		var d byte
		if pi < len(pat) {
			d = pat[pi]
			pi++
		}

		failed := false

		switch d {
		case '?':
			// anything goes

		case '*':
			if pi >= len(pat) {
				return true // trailing '*' matches the rest of candidate
			}
			hasBack = true
			backPatIdx = pi
			backStrIdx = si - 1 // allow a zero-length match of '*'
			si = backStrIdx

		case '[':
			matched, newPi := matchClass(pat, pi, c)
			pi = newPi
			failed = !matched

		case '\\':
			var lit byte
			if pi < len(pat) {
				lit = pat[pi]
				pi++
			}
			failed = c != lit

		default:
			failed = c != d
		}

		if failed {
			if !hasBack {
				return false
			}
			backStrIdx++
			si = backStrIdx
			pi = backPatIdx
		}
	}

	// A trailing run of '*' matches the empty remainder of candidate.
	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}

	return si >= len(str) && pi >= len(pat)
}

// matchClass evaluates a '[...]' character class against c. start is the
// pattern index immediately after '['. It returns whether c is a member
// of the (possibly inverted) class, and the pattern index immediately
// after the class's closing ']'.
func matchClass(pat []byte, start int, c byte) (matched bool, newPi int) {
	pos := start
	inverted := pos < len(pat) && pat[pos] == '^'
	if inverted {
		pos++
	}
	if pos >= len(pat) {
		return false, pos
	}

	a := pat[pos]
	pos++
	var hit bool
	for {
		b := a
		if pos+1 < len(pat) && pat[pos] == '-' && pat[pos+1] != ']' {
			b = pat[pos+1]
			pos += 2
			if a > b {
				a, b = b, a
			}
		}
		if a <= c && c <= b {
			hit = true
		}
		if pos >= len(pat) {
			break
		}
		a = pat[pos]
		pos++
		if a == ']' {
			break
		}
	}

	return hit != inverted, pos
}
