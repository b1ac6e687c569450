package sniff_test

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/sniff"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

func docxBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("<xml/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		key  string
		want sniff.Format
	}{
		{name: "pdf magic wins over suffix", data: []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj"), key: "notes.txt", want: sniff.PDF},
		{name: "pdf magic without suffix", data: []byte("%PDF-1.4\n"), key: "uploads/abc", want: sniff.PDF},
		{name: "html markup", data: []byte("<!DOCTYPE html><html><body>hi</body></html>"), key: "page", want: sniff.HTML},
		{name: "plain text uses txt suffix", data: []byte("hello world"), key: "a/b/readme.TXT", want: sniff.TXT},
		{name: "plain text uses csv suffix", data: []byte("a,b\n1,2\n"), key: "table.csv", want: sniff.CSV},
		{name: "markdown maps to txt", data: []byte("# Title\n"), key: "doc.md", want: sniff.TXT},
		{name: "htm suffix", data: []byte("just words"), key: "legacy.htm", want: sniff.HTML},
		{name: "text without usable suffix", data: []byte("hello"), key: "file.xyz", want: sniff.Unknown},
		{name: "image is conclusive even with pdf suffix", data: pngHeader, key: "scan.pdf", want: sniff.Unknown},
		{name: "empty buffer falls back to suffix", data: nil, key: "empty.txt", want: sniff.TXT},
		{name: "nothing to go on", data: nil, key: "", want: sniff.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniff.Sniff(tt.data, tt.key))
		})
	}
}

func TestSniff_Docx(t *testing.T) {
	data := docxBytes(t)
	assert.Equal(t, sniff.DOCX, sniff.Sniff(data, "report.docx"))
}

func TestFormat_MIME(t *testing.T) {
	assert.Equal(t, "application/pdf", sniff.PDF.MIME())
	assert.Equal(t, "text/csv", sniff.CSV.MIME())
	assert.Equal(t, "application/octet-stream", sniff.Format("weird").MIME())
}
