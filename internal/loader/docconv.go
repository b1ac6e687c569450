package loader

import (
	"bytes"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"ragline/internal/sniff"
)

func convert(data []byte, f sniff.Format) (*docconv.Response, error) {
	res, err := docconv.Convert(bytes.NewReader(data), f.MIME(), false)
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%s", res.Error)
	}
	return res, nil
}

// loadPDF yields the whole document as one segment. docconv runs pdftotext
// with -nopgbrk, so page boundaries do not survive extraction.
func loadPDF(data []byte) ([]Segment, error) {
	res, err := convert(data, sniff.PDF)
	if err != nil {
		return nil, err
	}
	return []Segment{{Text: strings.TrimSpace(res.Body), Label: "pdf"}}, nil
}

func loadDOCX(data []byte) ([]Segment, error) {
	res, err := convert(data, sniff.DOCX)
	if err != nil {
		return nil, err
	}
	return []Segment{{Text: strings.TrimSpace(res.Body), Label: "docx"}}, nil
}
