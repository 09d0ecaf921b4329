// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package glob implements the wildcard matcher used by path-based privilege
selectors.

Supported syntax:

  - '*' matches any run of characters, including the empty run.
  - '?' matches exactly one character.
  - '\' escapes the next character, turning wildcards into literals.

Matching is case-sensitive and byte-oriented (ASCII). Unlike [path.Match]
there is no special treatment of separator characters: privilege patterns
apply to single resource-path components.
*/
package glob

import "fmt"

// Match reports whether s matches pattern.
//
// A pattern ending in a bare escape character is invalid and returns an
// error; every other pattern is total.
func Match(pattern, s string) (bool, error) {
	return match(pattern, 0, s, 0)
}

func match(pat string, ppos int, str string, spos int) (bool, error) {
	for ppos < len(pat) && spos < len(str) {
		switch pat[ppos] {
		case '*':
			// Collapse runs of '*'; they are equivalent to one.
			for ppos+1 < len(pat) && pat[ppos+1] == '*' {
				ppos++
			}
			// Try every possible split of the remaining string.
			for sp := spos; sp <= len(str); sp++ {
				ok, err := match(pat, ppos+1, str, sp)
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		case '\\':
			ppos++
			if ppos >= len(pat) {
				return false, fmt.Errorf("glob: invalid pattern %q", pat)
			}
			if str[spos] != pat[ppos] {
				return false, nil
			}
			ppos++
			spos++
		case '?':
			ppos++
			spos++
		default:
			if str[spos] != pat[ppos] {
				return false, nil
			}
			ppos++
			spos++
		}
	}

	// The string is consumed; the pattern still matches if the remainder
	// can only match empty input. A bare escape here is just as malformed
	// as one hit mid-string.
	for ppos < len(pat) && pat[ppos] == '*' {
		ppos++
	}
	if ppos == len(pat)-1 && pat[ppos] == '\\' {
		return false, fmt.Errorf("glob: invalid pattern %q", pat)
	}
	return ppos == len(pat) && spos == len(str), nil
}
