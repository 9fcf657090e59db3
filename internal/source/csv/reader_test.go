package csv

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

func readAll(t *testing.T, r *Reader) [][]string {
	t.Helper()
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, append([]string(nil), rec...))
	}
}

func TestOpen_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		opt  Options
		want [][]string
	}{
		{
			name: "bom_stripped_from_header",
			in:   "\uFEFFid,name\n1,a\n",
			want: [][]string{{"id", "name"}, {"1", "a"}},
		},
		{
			name: "semicolon",
			in:   "a;b\n1;2\n",
			opt:  Options{Comma: ';'},
			want: [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name: "spaces_kept_by_default",
			in:   "a\n  x \n",
			want: [][]string{{"a"}, {"  x "}},
		},
		{
			name: "trim_space",
			in:   "a ,b\n  x ,\t\n",
			opt:  Options{TrimSpace: true},
			want: [][]string{{"a", "b"}, {"x", ""}},
		},
		{
			name: "ragged_rows_allowed",
			in:   "a,b\n1\n",
			want: [][]string{{"a", "b"}, {"1"}},
		},
		{
			name: "lazy_quotes",
			in:   "a\nsay \"hi\"\n",
			opt:  Options{LazyQuotes: true},
			want: [][]string{{"a"}, {`say "hi"`}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Open(strings.NewReader(tt.in), tt.opt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, readAll(t, r))
			assert.Equal(t, len(tt.want), r.Records())
		})
	}
}

func TestOpen_Encodings(t *testing.T) {
	t.Parallel()

	cp1250, err := charmap.Windows1250.NewEncoder().String("město\nPřerov\n")
	require.NoError(t, err)
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String("name\nJosé\n")
	require.NoError(t, err)

	r, err := Open(strings.NewReader(cp1250), Options{Encoding: "Windows-1250"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"město"}, {"Přerov"}}, readAll(t, r))

	r, err = Open(strings.NewReader(utf16), Options{Encoding: "utf-16"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"name"}, {"José"}}, readAll(t, r))

	_, err = Open(strings.NewReader(""), Options{Encoding: "ebcdic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ebcdic")
	assert.Contains(t, Encodings(), "iso-8859-2")
}

func TestEncodings_Sorted(t *testing.T) {
	t.Parallel()

	names := Encodings()
	assert.Len(t, names, 10)
	assert.IsIncreasing(t, names)
	assert.Equal(t, names, Encodings())
}

func TestOpen_InvalidDelimiter(t *testing.T) {
	t.Parallel()

	_, err := Open(strings.NewReader(""), Options{Comma: '"'})
	require.Error(t, err)
}

func TestRead_ErrorNamesRecord(t *testing.T) {
	t.Parallel()

	r, err := Open(strings.NewReader("a\n\"unterminated\n"), Options{})
	require.NoError(t, err)

	_, err = r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv record 2")
}

func TestReader_FeedsDataset(t *testing.T) {
	t.Parallel()

	r, err := Open(strings.NewReader("\uFEFFid,score,label\n1,2.5,NA\n2,,x\n"), Options{})
	require.NoError(t, err)

	ds, err := dataset.New(r, cell.NewNullSentinels("NA"))
	require.NoError(t, err)

	v := ds.View()
	assert.Equal(t, "id", v.Columns[0].Name.Raw)
	assert.Equal(t, []cell.Value{cell.Float(2.5), cell.Empty()}, v.Columns[1].Values)
	assert.Equal(t, []cell.Value{cell.Null(), cell.Str("x")}, v.Columns[2].Values)
}
