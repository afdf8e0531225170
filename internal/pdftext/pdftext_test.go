package pdftext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-payments/internal/config"
	"github.com/sells-group/contract-payments/internal/pdftext/pdftest"
)

// fakeSource serves canned rows and plain text per page.
type fakeSource struct {
	rows     map[int][]row
	rowErr   map[int]error
	plain    map[int]string
	plainErr map[int]error
	panicOn  int
	pages    int
	closed   bool
}

func (f *fakeSource) NumPage() int { return f.pages }

func (f *fakeSource) Rows(n int) ([]row, error) {
	if n == f.panicOn {
		panic("corrupt xref")
	}
	if err := f.rowErr[n]; err != nil {
		return nil, err
	}
	return f.rows[n], nil
}

func (f *fakeSource) PlainText(n int) (string, error) {
	if err := f.plainErr[n]; err != nil {
		return "", err
	}
	return f.plain[n], nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func writePDF(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestExtractor(src source) *Extractor {
	e := NewExtractor(config.ExtractConfig{})
	e.open = func(string) (source, error) { return src, nil }
	return e
}

func textRow(y float64, cells ...string) row {
	r := row{Y: y}
	for i, c := range cells {
		r.Glyphs = append(r.Glyphs, glyph{X: float64(72 + 180*i), Y: y, S: c})
	}
	return r
}

func TestValidateFile(t *testing.T) {
	e := NewExtractor(config.ExtractConfig{MaxFileBytes: 64})

	_, err := e.ValidateFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	txt := writePDF(t, "notes.txt", []byte("%PDF-1.4 hello"))
	_, err = e.ValidateFile(txt)
	assert.ErrorIs(t, err, ErrNotPDF)

	fake := writePDF(t, "fake.pdf", []byte("hello world"))
	_, err = e.ValidateFile(fake)
	assert.ErrorIs(t, err, ErrNotPDF)

	empty := writePDF(t, "empty.pdf", nil)
	_, err = e.ValidateFile(empty)
	assert.ErrorIs(t, err, ErrEmptyFile)

	big := writePDF(t, "big.pdf", append([]byte("%PDF-1.4\n"), make([]byte, 100)...))
	_, err = e.ValidateFile(big)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	ok := writePDF(t, "Contract.PDF", []byte("%PDF-1.4\n"))
	size, err := e.ValidateFile(ok)
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
}

func TestDefaultMaxBytes(t *testing.T) {
	assert.Equal(t, DefaultMaxFileBytes, NewExtractor(config.ExtractConfig{}).MaxBytes())
	assert.Equal(t, int64(10*1024*1024), DefaultMaxFileBytes)
}

func TestExtractLayoutWithTable(t *testing.T) {
	src := &fakeSource{
		pages: 2,
		rows: map[int][]row{
			1: {
				textRow(720, "Master Services Agreement"),
				textRow(700, "Payment is due within 30 days of invoice."),
			},
			2: {
				textRow(720, "Milestone", "Due Date", "Amount"),
				textRow(700, "Kickoff", "01/15/2024", "$10,000.00"),
				textRow(680, "Delivery", "03/01/2024", "$15,000.00"),
				textRow(660, "Thank you"),
			},
		},
	}
	path := writePDF(t, "msa.pdf", []byte("%PDF-1.4\n"))
	doc, err := newTestExtractor(src).Extract(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, doc.Successful)
	assert.True(t, src.closed)
	assert.Equal(t, MethodLayout, doc.Method)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 2, doc.Pages[1].Number)
	assert.Contains(t, doc.Text, "Master Services Agreement")
	assert.Contains(t, doc.Text, "\n\n")

	require.Len(t, doc.Tables, 1)
	tbl := doc.Tables[0]
	assert.Equal(t, 2, tbl.Page)
	assert.Equal(t, 3, tbl.RowCount())
	assert.Equal(t, 3, tbl.ColumnCount())
	assert.Equal(t, []string{"Kickoff", "01/15/2024", "$10,000.00"}, tbl.Rows[1])

	// text + multipage + table + keywords(payment, invoice, milestone, amount)
	assert.Equal(t, 68.0, doc.Confidence)
	assert.Empty(t, doc.Errors)
}

func TestExtractFallsBackToPlainText(t *testing.T) {
	src := &fakeSource{
		pages:    3,
		rows:     map[int][]row{},
		plain:    map[int]string{1: "Invoice total $5,000", 3: "Signed"},
		plainErr: map[int]error{2: errors.New("bad stream")},
	}
	path := writePDF(t, "scan.pdf", []byte("%PDF-1.4\n"))
	doc, err := newTestExtractor(src).Extract(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, doc.Successful)
	assert.Equal(t, MethodPlain, doc.Method)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, "Invoice total $5,000\n\nSigned", doc.Text)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0], "page 2 extraction failed")
	// 30 + 10 (pages) + 2 (invoice) - 5 (one error)
	assert.Equal(t, 37.0, doc.Confidence)
}

func TestExtractRecoversFromPagePanic(t *testing.T) {
	src := &fakeSource{
		pages:   2,
		panicOn: 1,
		rows:    map[int][]row{2: {textRow(700, "Monthly fee $1,000")}},
	}
	path := writePDF(t, "p.pdf", []byte("%PDF-1.4\n"))
	doc, err := newTestExtractor(src).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, doc.Successful)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0], "pdf reader panic")
	assert.Contains(t, doc.Issues(), doc.Errors[0])
}

func TestExtractNoText(t *testing.T) {
	src := &fakeSource{pages: 1}
	path := writePDF(t, "blank.pdf", []byte("%PDF-1.4\n"))
	doc, err := newTestExtractor(src).Extract(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, doc.Successful)
	assert.Equal(t, 0.0, doc.Confidence)
	assert.Contains(t, doc.Warnings, WarningNoText)
}

func TestExtractTotalFailure(t *testing.T) {
	e := NewExtractor(config.ExtractConfig{})
	e.open = func(string) (source, error) { return nil, errors.New("malformed xref") }
	path := writePDF(t, "bad.pdf", []byte("%PDF-1.4\n"))

	_, err := e.Extract(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractFallsBackToPdfToText(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "pdftotext")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf 'Page one fee\\fPage two'\n"), 0o755))

	e := NewExtractor(config.ExtractConfig{UsePdfToText: true, PdfToTextPath: script})
	e.open = func(string) (source, error) { return nil, errors.New("unsupported filter") }
	path := writePDF(t, "odd.pdf", []byte("%PDF-1.4\n"))

	doc, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, MethodPdfToText, doc.Method)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, "Page one fee\n\nPage two", doc.Text)
	assert.Len(t, doc.Errors, 1)
}

func TestExtractPdfToTextFailure(t *testing.T) {
	e := NewExtractor(config.ExtractConfig{UsePdfToText: true, PdfToTextPath: "/nonexistent/pdftotext"})
	e.open = func(string) (source, error) { return nil, errors.New("unsupported filter") }
	path := writePDF(t, "odd.pdf", []byte("%PDF-1.4\n"))

	_, err := e.Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractBytesRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{pages: 1, rows: map[int][]row{1: {textRow(700, "Retainer $2,000")}}}
	e := newTestExtractor(src)
	e.tempDir = dir

	doc, err := e.ExtractBytes(context.Background(), "upload.pdf", []byte("%PDF-1.4\n"))
	require.NoError(t, err)
	assert.Equal(t, "upload.pdf", doc.FileName)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = e.ExtractBytes(context.Background(), "upload.docx", []byte("%PDF-1.4\n"))
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestWithTempFileCleansUpOnErrorAndPanic(t *testing.T) {
	dir := t.TempDir()
	var seen string
	err := WithTempFile(dir, []byte("data"), func(path string) error {
		seen = path
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "data", string(b))
		return errors.New("parse failed")
	})
	require.Error(t, err)
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))

	assert.Panics(t, func() {
		_ = WithTempFile(dir, []byte("data"), func(path string) error {
			seen = path
			panic("boom")
		})
	})
	_, statErr = os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 0.0, QualityScore(Quality{Text: "   "}))
	assert.Equal(t, 30.0, QualityScore(Quality{Text: "hello"}))

	long := strings.Repeat("x", 5001)
	assert.Equal(t, 50.0, QualityScore(Quality{Text: long}))
	assert.Equal(t, 40.0, QualityScore(Quality{Text: strings.Repeat("x", 2001)}))

	all := strings.Join(PaymentKeywords, " ")
	// 11 keywords cap at +20.
	assert.Equal(t, 50.0, QualityScore(Quality{Text: all}))
	assert.Equal(t, 100.0, QualityScore(Quality{Text: all + long, Pages: 3, Tables: 1}))
	assert.Equal(t, 0.0, QualityScore(Quality{Text: "x", Errors: 10}))
}

func TestBuildLineMergesGlyphs(t *testing.T) {
	// Per-glyph runs with widths join into words; a wide gap starts a cell.
	l := buildLine([]glyph{
		{X: 10, W: 5, FontSize: 10, S: "N"},
		{X: 15, W: 5, FontSize: 10, S: "e"},
		{X: 20, W: 5, FontSize: 10, S: "t"},
		{X: 27, W: 5, FontSize: 10, S: "3"},
		{X: 32, W: 5, FontSize: 10, S: "0"},
		{X: 200, W: 5, FontSize: 10, S: "$"},
		{X: 205, W: 5, FontSize: 10, S: "9"},
	})
	assert.Equal(t, []string{"Net 30", "$9"}, l.Cells)
}

func TestDetectTablesNeedsTwoRows(t *testing.T) {
	lines := layoutLines([]row{
		textRow(700, "Fee", "Amount"),
		textRow(680, "Plain sentence"),
		textRow(660, "A", "B", "C"),
		textRow(640, "D"),
	})
	assert.Empty(t, detectTables(lines))
}

func TestMarkedText(t *testing.T) {
	d := &Document{Pages: []Page{{Number: 1, Text: "a"}, {Number: 3, Text: "b"}}}
	assert.Equal(t, "--- Page 1 ---\na\n\n--- Page 3 ---\nb", d.MarkedText())
}

func TestExtractRealPDF(t *testing.T) {
	page1 := pdftest.Lines(
		"CONSULTING AGREEMENT",
		"The Client shall pay a monthly retainer of $5,000.00.",
	)
	var page2 pdftest.Page
	page2 = append(page2, pdftest.Row(720, "Milestone", "Due Date", "Amount")...)
	page2 = append(page2, pdftest.Row(700, "Kickoff", "01/15/2024", "$10,000.00")...)
	page2 = append(page2, pdftest.Row(680, "Delivery", "03/01/2024", "$15,000.00")...)

	path := writePDF(t, "agreement.pdf", pdftest.Build(page1, page2))
	doc, err := NewExtractor(config.ExtractConfig{}).Extract(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, doc.Successful)
	assert.Equal(t, 2, doc.PageCount)
	assert.Contains(t, doc.Text, "CONSULTING AGREEMENT")
	assert.Contains(t, doc.Text, "$10,000.00")
	require.NotEmpty(t, doc.Tables)
	assert.Equal(t, 3, doc.Tables[0].RowCount())
	assert.Greater(t, doc.Confidence, 50.0)
}

func TestExtractRealPDFWithoutText(t *testing.T) {
	path := writePDF(t, "blank.pdf", pdftest.Build(pdftest.Page{}))
	doc, err := NewExtractor(config.ExtractConfig{}).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, doc.Successful)
	assert.Equal(t, 0.0, doc.Confidence)
	assert.Contains(t, doc.Warnings, WarningNoText)
}
