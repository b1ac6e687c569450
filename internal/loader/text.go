package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	errInvalidUTF8 = errors.New("content is not valid UTF-8")
	errNoHeader    = errors.New("csv has no header row")
)

var bom = []byte{0xEF, 0xBB, 0xBF}

func loadText(data []byte) ([]Segment, error) {
	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, errInvalidUTF8
	}
	return []Segment{{Text: strings.TrimSpace(string(data)), Label: "text"}}, nil
}

// loadCSV emits one segment per data row, rendered as "header: value" lines
// so each row stays meaningful once it is chunked on its own.
func loadCSV(data []byte) ([]Segment, error) {
	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, errInvalidUTF8
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, err
	}

	var segments []Segment
	for row := 1; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		var b strings.Builder
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			name := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		}
		segments = append(segments, Segment{
			Text:  strings.TrimSpace(b.String()),
			Label: fmt.Sprintf("row %d", row),
		})
	}
	return segments, nil
}
