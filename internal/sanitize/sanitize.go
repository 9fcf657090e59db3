// Package sanitize maps arbitrary text to identifier tokens.
//
// Identifier is deterministic and total. It is not injective: "a.b" and
// "a-b" both become "a_b". Callers that need unique names detect collisions
// themselves (see codegen).
package sanitize

import (
	"strings"
	"unicode"
)

// EmptyIdent is returned for blank input.
const EmptyIdent = "Empty"

// substitutions maps single runes to their replacement token. An empty
// token drops the rune.
var substitutions = map[rune]string{
	// punctuation
	',': "Comma",
	':': "Colon",
	';': "Semi",
	'.': "_",
	'_': "_",
	' ': "_",

	// math and logic
	'+': "PLUS",
	'-': "_",
	'*': "STAR",
	'/': "SLASH",
	'=': "EQUALS",
	'%': "PERCENT",
	'<': "LT",
	'>': "GT",

	// wrappers
	'(': "",
	')': "",
	'[': "OpenBracket",
	']': "CloseBracket",
	'{': "OpenBrace",
	'}': "CloseBrace",

	// special / web
	'@': "At",
	'#': "Hash",
	'$': "Dollar",
	'&': "And",
	'|': "Pipe",
	'!': "Bang",
	'?': "Question",
	'~': "Tilde",

	// quotes
	'"':  "Quote",
	'\'': "Tick",
	'`':  "Backtick",
	'\\': "Backslash",

	// digits
	'0': "Zero",
	'1': "One",
	'2': "Two",
	'3': "Three",
	'4': "Four",
	'5': "Five",
	'6': "Six",
	'7': "Seven",
	'8': "Eight",
	'9': "Nine",
}

// Identifier converts text into an identifier token.
//
// Rules, in order:
//   - surrounding whitespace is trimmed; blank input yields "Empty"
//   - each rune goes through the substitution table; other letters and
//     digits pass through unchanged, everything else is dropped
//   - a result starting with a decimal digit is prefixed with "N"
//
// ASCII digits never survive the table, so the prefix only triggers for
// non-ASCII decimal digits. Other numeric runes such as superscripts or
// roman numerals are dropped, as Go identifiers cannot hold them.
func Identifier(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyIdent
	}

	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		if tok, ok := substitutions[r]; ok {
			b.WriteString(tok)
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	out := b.String()
	for _, r := range out {
		if unicode.IsDigit(r) {
			return "N" + out
		}
		break
	}
	return out
}
