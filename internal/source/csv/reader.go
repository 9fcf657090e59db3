// Package csv opens delimited text as a dataset.RecordReader.
//
// It wraps encoding/csv with the input handling the generator needs:
// charset decoding, a leading byte order mark on the header, optional
// trimming of edge whitespace and line numbers on read errors. Records are
// returned as read; short rows are not padded.
package csv

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const bom = "\uFEFF"

// Options controls Open.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// LazyQuotes allows quotes inside unquoted fields.
	LazyQuotes bool
	// TrimSpace removes leading and trailing whitespace from every field.
	// It is off by default: a field of spaces is a string, not Empty.
	TrimSpace bool
	// Encoding names the input charset; see Encodings. Blank means UTF-8.
	Encoding string
}

// encodings maps accepted charset names to decoders. nil means UTF-8.
var encodings = map[string]encoding.Encoding{
	"utf-8":        nil,
	"utf8":         nil,
	"utf-16":       unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"windows-1250": charmap.Windows1250,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
}

// Encodings lists the accepted charset names in sorted order.
func Encodings() []string {
	out := make([]string, 0, len(encodings))
	for k := range encodings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reader yields CSV records. It satisfies dataset.RecordReader.
type Reader struct {
	cr   *csv.Reader
	trim bool
	line int
}

// Open prepares r for reading. It fails only for an unknown encoding or an
// invalid delimiter; malformed input surfaces from Read.
func Open(r io.Reader, opt Options) (*Reader, error) {
	name := strings.ToLower(strings.TrimSpace(opt.Encoding))
	if name != "" {
		enc, ok := encodings[name]
		if !ok {
			return nil, errors.WithHint(
				errors.Newf("unknown encoding %q", opt.Encoding),
				"supported: utf-8, utf-16, utf-16le, utf-16be, windows-1250, windows-1252, iso-8859-1, iso-8859-2")
		}
		if enc != nil {
			r = transform.NewReader(r, enc.NewDecoder())
		}
	}

	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	if comma == '"' || comma == '\r' || comma == '\n' || comma == utf8.RuneError {
		return nil, errors.Newf("invalid delimiter %q", comma)
	}

	cr := csv.NewReader(stripBOM(r))
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	return &Reader{cr: cr, trim: opt.TrimSpace}, nil
}

// Read returns the next record, or io.EOF after the last one.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(err, "csv record %d", r.line+1)
	}
	r.line++
	if r.trim {
		for i, v := range rec {
			if hasEdgeSpace(v) {
				rec[i] = strings.TrimSpace(v)
			}
		}
	}
	return rec, nil
}

// Records returns the number of records read so far, header included.
func (r *Reader) Records() int { return r.line }

// stripBOM drops a UTF-8 byte order mark at the start of r.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, []byte(bom)) {
		_, _ = br.Discard(len(bom))
	}
	return br
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	isSpace := func(b byte) bool {
		return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}
