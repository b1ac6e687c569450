package loader_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/loader"
	"ragline/internal/sniff"
)

func TestLoad_Text(t *testing.T) {
	segments, err := loader.Load(sniff.TXT, []byte("\xEF\xBB\xBF  hello world \n"))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "hello world", segments[0].Text)
	assert.Equal(t, "text", segments[0].Label)
}

func TestLoad_TextInvalidUTF8(t *testing.T) {
	data := []byte{0xff, 0xfe, 0xfd}
	_, err := loader.Load(sniff.TXT, data)

	var pe *loader.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, sniff.TXT, pe.Format)
	assert.Equal(t, 3, pe.Size)
	assert.Contains(t, err.Error(), "parse txt (3 bytes)")
}

func TestLoad_EmptyDocument(t *testing.T) {
	_, err := loader.Load(sniff.TXT, []byte("   \n\t"))
	assert.ErrorIs(t, err, loader.ErrNoText)
}

func TestLoad_CSV(t *testing.T) {
	data := []byte("name,role,team\nAda,engineer,core\n\nGrace,admiral,\nLinus,,kernel,extra\n")

	segments, err := loader.Load(sniff.CSV, data)
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, "row 1", segments[0].Label)
	assert.Equal(t, "name: Ada\nrole: engineer\nteam: core", segments[0].Text)
	assert.Equal(t, "name: Grace\nrole: admiral", segments[1].Text)
	assert.Equal(t, "name: Linus\nteam: kernel\ncolumn 4: extra", segments[2].Text)
}

func TestLoad_CSVMalformed(t *testing.T) {
	_, err := loader.Load(sniff.CSV, []byte("a,b\n\"unterminated,1\n"))

	var pe *loader.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, sniff.CSV, pe.Format)
}

func TestLoad_CSVHeaderOnly(t *testing.T) {
	_, err := loader.Load(sniff.CSV, []byte("a,b\n"))
	assert.ErrorIs(t, err, loader.ErrNoText)
}

func TestLoad_HTML(t *testing.T) {
	page := `<html><head><title>Handbook</title><style>p{color:red}</style></head>
<body>
  <p>Welcome   to the team.</p>
  <script>var x = 1;</script>
  <h2>Leave</h2>
  <p>Twenty days per year.</p>
  <ul><li>Sick leave</li><li>Parental leave</li></ul>
  <h2>Expenses</h2>
  <p>Submit receipts monthly.</p>
</body></html>`

	segments, err := loader.Load(sniff.HTML, []byte(page))
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, "Handbook", segments[0].Label)
	assert.Equal(t, "Welcome to the team.", segments[0].Text)

	assert.Equal(t, "Leave", segments[1].Label)
	assert.Equal(t, "Leave\nTwenty days per year.\nSick leave\nParental leave", segments[1].Text)

	assert.Equal(t, "Expenses", segments[2].Label)
	assert.NotContains(t, segments[2].Text, "color")
}

func TestLoad_HTMLDropsEmptyLeadingSection(t *testing.T) {
	segments, err := loader.Load(sniff.HTML, []byte("<h1>Only</h1><p>body</p>"))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "Only", segments[0].Label)
}

func TestLoad_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body><w:p><w:r><w:t>Quarterly revenue grew.</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	segments, err := loader.Load(sniff.DOCX, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Contains(t, segments[0].Text, "Quarterly revenue grew.")
}

func TestLoad_CorruptBinary(t *testing.T) {
	for _, f := range []sniff.Format{sniff.PDF, sniff.DOCX} {
		_, err := loader.Load(f, []byte("definitely not a document"))

		var pe *loader.ParseError
		require.True(t, errors.As(err, &pe), "format %s", f)
		assert.Equal(t, f, pe.Format)
	}
}

func TestLoad_Unsupported(t *testing.T) {
	assert.False(t, loader.Supports(sniff.Unknown))
	_, err := loader.Load(sniff.Unknown, []byte("x"))
	assert.ErrorIs(t, err, loader.ErrUnsupported)
}

// twoPagePDF builds a minimal PDF with one line of text on each page.
func twoPagePDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 5 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 144] /Contents 4 0 R /Resources << /Font << /F1 7 0 R >> >> >>",
		"",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 144] /Contents 6 0 R /Resources << /Font << /F1 7 0 R >> >> >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	streams := map[int]string{
		3: "BT /F1 18 Tf 20 100 Td (first page) Tj ET",
		5: "BT /F1 18 Tf 20 100 Td (second page) Tj ET",
	}
	for i, body := range streams {
		objects[i] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestLoad_PDFIsOneSegment(t *testing.T) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext not installed")
	}

	segments, err := loader.Load(sniff.PDF, twoPagePDF())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "pdf", segments[0].Label)
	assert.Contains(t, segments[0].Text, "first page")
	assert.Contains(t, segments[0].Text, "second page")
	assert.NotContains(t, segments[0].Text, "\f")
}
