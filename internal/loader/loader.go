// Package loader turns raw document bytes into ordered text segments.
//
// The set of formats is closed: each sniff.Format that can be loaded has
// exactly one handler in the registry below. Supporting a new format means
// adding a variant there, never inspecting types at the call site.
package loader

import (
	"errors"
	"fmt"
	"strings"

	"ragline/internal/sniff"
)

// Segment is a run of text with the provenance it came from (row,
// section). Segments are never empty.
type Segment struct {
	Text  string
	Label string
}

var (
	ErrUnsupported = errors.New("no loader for format")
	ErrNoText      = errors.New("document contains no extractable text")
)

// ParseError reports that a whole document could not be loaded. Loaders
// never return segments alongside it.
type ParseError struct {
	Format sniff.Format
	Size   int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%d bytes): %v", e.Format, e.Size, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Func is the uniform loader contract.
type Func func(data []byte) ([]Segment, error)

var registry = map[sniff.Format]Func{
	sniff.PDF:  loadPDF,
	sniff.DOCX: loadDOCX,
	sniff.TXT:  loadText,
	sniff.CSV:  loadCSV,
	sniff.HTML: loadHTML,
}

// Supports reports whether f has a loader.
func Supports(f sniff.Format) bool {
	_, ok := registry[f]
	return ok
}

// Load dispatches to the loader for f. Any failure, including a document
// without text, is returned as a *ParseError.
func Load(f sniff.Format, data []byte) ([]Segment, error) {
	fn, ok := registry[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}

	segments, err := fn(data)
	if err != nil {
		return nil, &ParseError{Format: f, Size: len(data), Err: err}
	}

	segments = dropEmpty(segments)
	if len(segments) == 0 {
		return nil, &ParseError{Format: f, Size: len(data), Err: ErrNoText}
	}
	return segments, nil
}

func dropEmpty(in []Segment) []Segment {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
