// Package sniff detects the logical format of an uploaded document.
package sniff

import (
	"net/http"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

type Format string

const (
	PDF     Format = "pdf"
	DOCX    Format = "docx"
	TXT     Format = "txt"
	CSV     Format = "csv"
	HTML    Format = "html"
	Unknown Format = "unknown"
)

var mimeTypes = map[Format]string{
	PDF:     "application/pdf",
	DOCX:    "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	TXT:     "text/plain",
	CSV:     "text/csv",
	HTML:    "text/html",
	Unknown: "application/octet-stream",
}

var extensions = map[string]Format{
	".pdf":  PDF,
	".docx": DOCX,
	".txt":  TXT,
	".md":   TXT,
	".csv":  CSV,
	".html": HTML,
	".htm":  HTML,
}

// MIME returns the canonical media type recorded on chunks of format f.
func (f Format) MIME() string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return mimeTypes[Unknown]
}

// Sniff inspects content first and trusts it; only when the bytes are
// inconclusive does it look at the suffix of key. It never fails.
func Sniff(data []byte, key string) Format {
	if f, conclusive := fromContent(data); conclusive {
		return f
	}
	return fromKey(key)
}

func fromContent(data []byte) (Format, bool) {
	if len(data) == 0 {
		return Unknown, false
	}

	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		switch kind {
		case matchers.TypePdf:
			return PDF, true
		case matchers.TypeDocx:
			return DOCX, true
		case matchers.TypeZip:
			// Some writers order OOXML parts so the docx matcher misses them.
			return Unknown, false
		}
		// Images, archives, executables: no suffix makes them loadable.
		return Unknown, true
	}

	// DetectContentType implements the WHATWG sniffing algorithm, which
	// recognises HTML markup. Plain text is inconclusive between txt and csv.
	if strings.HasPrefix(http.DetectContentType(data), "text/html") {
		return HTML, true
	}
	return Unknown, false
}

func fromKey(key string) Format {
	ext := strings.ToLower(path.Ext(key))
	if f, ok := extensions[ext]; ok {
		return f
	}
	return Unknown
}
