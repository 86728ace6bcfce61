// Package input reads delimited text files into ordered row records.
//
// The first line of a file is the header; every subsequent line is one row.
// Rows are padded or truncated to the header width, with a warning recorded
// for each adjustment. Files may be UTF-8, UTF-16 or Latin-1 encoded; byte
// order marks are honored automatically.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/isometry/adimport/internal/logging"
)

// Row is one data record. Values are ordered as the header columns are.
type Row struct {
	Line   int // 1-based record number, the header is record 1
	Values []string
}

// Warning records a non-fatal irregularity encountered while reading.
type Warning struct {
	Line    int
	Message string
}

// Reader streams rows from a delimited text file.
type Reader struct {
	csv      *csv.Reader
	closer   io.Closer
	header   []string
	line     int
	warnings []Warning
	log      logging.Logger
}

// NewReader creates a reader over r using the given field delimiter. The
// header record is read immediately; a file without one is an error.
// encodingName selects the character encoding; empty means UTF-8 with BOM
// detection.
func NewReader(r io.Reader, delimiter rune, encodingName string, log logging.Logger) (*Reader, error) {
	if log == nil {
		log = logging.Discard()
	}

	decoder, err := decoderFor(encodingName)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(transform.NewReader(r, decoder))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1 // row width is validated against the header instead
	cr.LazyQuotes = true

	reader := &Reader{
		csv:  cr,
		line: 1,
		log:  log,
	}

	record, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("input is empty, expected a header record")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := make([]string, len(record))
	for i, field := range record {
		header[i] = strings.TrimSpace(field)
	}
	reader.header = header

	return reader, nil
}

// NewFileReader opens path and creates a reader over it. Close releases the
// underlying file.
func NewFileReader(path string, delimiter rune, encodingName string, log logging.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	reader, err := NewReader(f, delimiter, encodingName, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	reader.closer = f
	return reader, nil
}

// Header returns the trimmed header column names.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next row, or io.EOF after the last one. Rows narrower
// than the header are padded with empty values, wider rows are truncated;
// both record a warning.
func (r *Reader) Next() (*Row, error) {
	record, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("malformed input at line %d: %w", parseErr.Line, err)
		}
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	r.line++

	want := len(r.header)
	switch {
	case len(record) < want:
		r.warn(fmt.Sprintf("row has %d fields, expected %d, padding with empty values", len(record), want))
		padded := make([]string, want)
		copy(padded, record)
		record = padded
	case len(record) > want:
		r.warn(fmt.Sprintf("row has %d fields, expected %d, extra fields ignored", len(record), want))
		record = record[:want]
	}

	return &Row{
		Line:   r.line,
		Values: record,
	}, nil
}

// Warnings returns the warnings recorded so far.
func (r *Reader) Warnings() []Warning {
	return r.warnings
}

// Close releases the underlying file when the reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) warn(message string) {
	r.warnings = append(r.warnings, Warning{Line: r.line, Message: message})
	r.log.Warn(message, map[string]any{"line": r.line})
}

// decoderFor maps an encoding name to its decoder. The default detects a
// UTF-8 or UTF-16 byte order mark and falls back to plain UTF-8.
func decoderFor(name string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "utf-8", "utf8":
		return unicode.UTF8.NewDecoder(), nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), nil
	case "utf-16le", "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(), nil
	case "utf-16be", "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder(), nil
	case "latin-1", "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported input encoding: %s", name)
	}
}
