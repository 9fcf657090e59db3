// Package source resolves an input location to a dataset.RecordReader.
//
// An input is a file path, "-" for stdin or an http(s) URL. Its format is
// either given or inferred from the path extension.
package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/internal/source/csv"
	"github.com/AliothCancer/typed-csv/internal/source/html"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// Stdin is the input name that reads standard input.
const Stdin = "-"

// Format selects the record reader.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat accepts "", "auto", "csv" or "html".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "csv":
		return FormatCSV, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", errors.Newf("unknown input format %q (want csv or html)", s)
	}
}

// ErrUnsupportedInput is returned for inputs whose format cannot be used.
var ErrUnsupportedInput = errors.New("unsupported input")

// Input names where records come from.
type Input struct {
	// Name is a file path, Stdin or an http(s) URL.
	Name   string
	Format Format
}

// IsURL reports whether name is an http or https URL.
func IsURL(name string) bool {
	u, err := url.Parse(name)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Resolve validates in and fills in its format.
//
// Rules:
//   - Stdin is CSV unless a format is given.
//   - A file must exist and be a regular file.
//   - Without an explicit format, a file or URL path must end in .csv,
//     .html or .htm.
func Resolve(in Input) (Input, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Input{}, errors.WithHint(errors.New("no input given"), "pass a .csv or .html path, - for stdin, or a URL")
	}
	in.Name = name

	switch {
	case name == Stdin:
		if in.Format == FormatAuto {
			in.Format = FormatCSV
		}
		return in, nil

	case IsURL(name):
		if in.Format == FormatAuto {
			u, _ := url.Parse(name)
			f, ok := formatOfExt(path.Ext(u.Path))
			if !ok {
				return Input{}, errors.WithHint(
					errors.Wrapf(ErrUnsupportedInput, "cannot infer format of %s", name),
					"set --format csv or --format html")
			}
			in.Format = f
		}
		return in, nil
	}

	st, err := os.Stat(name)
	if err != nil {
		return Input{}, errors.Wrapf(err, "input %s", name)
	}
	if !st.Mode().IsRegular() {
		return Input{}, errors.Wrapf(ErrUnsupportedInput, "%s is not a regular file", name)
	}
	f, ok := formatOfExt(filepath.Ext(name))
	if !ok {
		return Input{}, errors.WithHint(
			errors.Wrapf(ErrUnsupportedInput, "%s: extension must be .csv, .html or .htm", name),
			"rename the file or read it from stdin with -")
	}
	if in.Format == FormatAuto {
		in.Format = f
	}
	return in, nil
}

func formatOfExt(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".csv":
		return FormatCSV, true
	case ".html", ".htm":
		return FormatHTML, true
	default:
		return "", false
	}
}

// Loader opens inputs with a consistent timeout policy for URLs.
type Loader struct {
	client  *http.Client
	timeout time.Duration
	stdin   io.Reader
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used;
// a nil stdin reads as empty.
func NewLoader(client *http.Client, timeout time.Duration, stdin io.Reader) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, timeout: timeout, stdin: stdin}
}

// Open returns the raw bytes of a resolved input. The caller closes it.
//
// On non-2xx HTTP responses, Open returns an error that includes the status
// code and up to 4KB of the response body.
func (l *Loader) Open(ctx context.Context, in Input) (io.ReadCloser, error) {
	switch {
	case in.Name == Stdin:
		if l.stdin == nil {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return io.NopCloser(l.stdin), nil
	case IsURL(in.Name):
		return l.fetch(ctx, in.Name)
	}
	f, err := os.Open(in.Name)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	return f, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if l.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", "csvtypes/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "http get")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, errors.Newf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &cancelCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelCloser releases the request context when the body is closed.
type cancelCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Options carries the per-format reader options.
type Options struct {
	CSV  csv.Options
	HTML html.Options
}

// Records wraps r in the reader for format.
func Records(r io.Reader, format Format, opt Options) (dataset.RecordReader, error) {
	switch format {
	case FormatCSV:
		cr, err := csv.Open(r, opt.CSV)
		if err != nil {
			return nil, err
		}
		return cr, nil
	case FormatHTML:
		hr, err := html.Open(r, opt.HTML)
		if err != nil {
			return nil, err
		}
		return hr, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedInput, "format %q", format)
	}
}
