// Package cell classifies raw CSV cell text into typed values.
//
// Classification is total: every input string maps to exactly one Kind and
// there is no error path. Text that looks numeric but does not parse falls
// through to KindString.
//
// The generated DataFrame constructors import this package at runtime, so
// the Kind constants and Value layout are part of the public surface.
package cell

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the tag of a classified Value.
//
// The declaration order is also the natural sort order used by Compare:
// String < Integer < Float < Null < Empty.
type Kind uint8

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindNull
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindNull:
		return "null"
	case KindEmpty:
		return "empty"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// MarshalText renders the kind name, so JSON output of profiles and IR is readable.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Value is one classified cell. Exactly one payload field is meaningful,
// selected by Kind; Null and Empty carry no payload.
type Value struct {
	Kind  Kind    `json:"kind"`
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Str   string  `json:"str,omitempty"`
}

// Constructors used by tests and by callers building datasets by hand.
func Int(i int64) Value     { return Value{Kind: KindInteger, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value    { return Value{Kind: KindString, Str: s} }
func Null() Value           { return Value{Kind: KindNull} }
func Empty() Value          { return Value{Kind: KindEmpty} }

// String returns the canonical display text of v.
//
// Re-classifying the display text of an Integer, Float or String value
// yields the same Kind again (for strings, as long as the text is not itself
// numeric, blank or a configured sentinel).
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return FormatFloat(v.Float)
	case KindNull:
		return "Null"
	case KindEmpty:
		return "Empty"
	default:
		return ""
	}
}

// Equal reports whether a and b are the same classified value.
// NaN floats are equal to each other so that deduplication terminates.
func (v Value) Equal(o Value) bool { return Compare(v, o) == 0 }

// FormatFloat is the canonical shortest decimal form of f. Integral values
// keep a ".0" suffix so the text classifies as Float again.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEnN") {
		return s
	}
	return s + ".0"
}

// Compare orders values first by Kind, then by payload.
//
// Strings compare byte-wise, integers and floats numerically. NaN sorts
// after every other float and compares equal to NaN, which keeps the order
// total so that sort places equal values contiguously.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindString:
		return strings.Compare(a.Str, b.Str)
	case KindInteger:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	case KindFloat:
		an, bn := math.IsNaN(a.Float), math.IsNaN(b.Float)
		switch {
		case an && bn:
			return 0
		case an:
			return 1
		case bn:
			return -1
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		}
		return 0
	default:
		return 0
	}
}

// NullSentinels is the set of tokens interpreted as Null. Matching is exact
// and case-sensitive. The zero value is a valid, empty set.
type NullSentinels map[string]struct{}

// NewNullSentinels builds a sentinel set from tokens.
func NewNullSentinels(tokens ...string) NullSentinels {
	s := make(NullSentinels, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether raw is a configured sentinel.
func (s NullSentinels) Contains(raw string) bool {
	_, ok := s[raw]
	return ok
}

// Tokens returns the sentinels in sorted order.
func (s NullSentinels) Tokens() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Classify converts one raw cell into a Value.
//
// Blankness is checked before sentinel membership, and no trimming is
// applied: "" is Empty, " " is a String. An integer parse wins over a float
// parse when both succeed.
func Classify(raw string, nulls NullSentinels) Value {
	if raw == "" {
		return Empty()
	}
	if nulls.Contains(raw) {
		return Null()
	}

	i, intErr := strconv.ParseInt(raw, 10, 64)
	f, floatErr := strconv.ParseFloat(raw, 64)
	switch {
	case intErr == nil:
		return Int(i)
	case floatErr == nil:
		return Float(f)
	default:
		return Str(raw)
	}
}
