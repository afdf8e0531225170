// Package pdftext extracts text, per-page text and tables from PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/config"
)

// DefaultMaxFileBytes is the size ceiling applied when none is configured.
const DefaultMaxFileBytes int64 = 10 << 20

// Extraction methods recorded on a Document.
const (
	MethodLayout    = "layout"
	MethodPlain     = "plain"
	MethodPdfToText = "pdftotext"
)

// WarningNoText is reported when a readable document has no text layer.
const WarningNoText = "no text extracted from PDF"

// Input and document-fatal errors.
var (
	ErrFileNotFound     = eris.New("pdftext: file not found")
	ErrNotPDF           = eris.New("pdftext: file is not a PDF")
	ErrEmptyFile        = eris.New("pdftext: file is empty")
	ErrFileTooLarge     = eris.New("pdftext: file exceeds size limit")
	ErrExtractionFailed = eris.New("pdftext: no extraction method could read the document")
)

var pdfMagic = []byte("%PDF-")

// Page is the text of one page.
type Page struct {
	Number    int    `json:"number"`
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
}

// Table is a grid of cells detected on a page.
type Table struct {
	Page  int        `json:"page"`
	Index int        `json:"index"`
	Rows  [][]string `json:"rows"`
}

// RowCount returns the number of rows including the header.
func (t Table) RowCount() int { return len(t.Rows) }

// ColumnCount returns the width of the widest row.
func (t Table) ColumnCount() int {
	n := 0
	for _, r := range t.Rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// Document is the outcome of extracting one PDF.
type Document struct {
	FileName   string   `json:"file_name"`
	SizeBytes  int64    `json:"size_bytes"`
	Method     string   `json:"method"`
	PageCount  int      `json:"page_count"`
	Text       string   `json:"-"`
	Pages      []Page   `json:"pages"`
	Tables     []Table  `json:"tables"`
	Confidence float64  `json:"confidence"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Successful bool     `json:"extraction_successful"`
}

// Issues returns page-level errors followed by quality warnings.
func (d *Document) Issues() []string {
	out := make([]string, 0, len(d.Errors)+len(d.Warnings))
	out = append(out, d.Errors...)
	return append(out, d.Warnings...)
}

// MarkedText returns the page texts each preceded by a "--- Page N ---"
// marker.
func (d *Document) MarkedText() string {
	var b strings.Builder
	for i, p := range d.Pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("--- Page ")
		b.WriteString(strconv.Itoa(p.Number))
		b.WriteString(" ---\n")
		b.WriteString(p.Text)
	}
	return b.String()
}

// Extractor reads PDFs with a layout-aware reader, a plain sequential reader
// and optionally the pdftotext CLI.
type Extractor struct {
	maxBytes int64
	tempDir  string
	open     func(path string) (source, error)
	cli      *PdfToText
}

// NewExtractor creates an Extractor from config.
func NewExtractor(cfg config.ExtractConfig) *Extractor {
	e := &Extractor{
		maxBytes: cfg.MaxFileBytes,
		tempDir:  cfg.TempDir,
		open:     openPDF,
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxFileBytes
	}
	if cfg.UsePdfToText {
		e.cli = NewPdfToText(cfg.PdfToTextPath)
	}
	return e
}

// MaxBytes returns the configured size ceiling.
func (e *Extractor) MaxBytes() int64 { return e.maxBytes }

// ValidateFile rejects paths that are missing, not PDFs, empty or too large.
func (e *Extractor) ValidateFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, eris.Wrapf(ErrFileNotFound, "%s", path)
		}
		return 0, eris.Wrapf(err, "pdftext: stat %s", path)
	}
	if info.IsDir() {
		return 0, eris.Wrapf(ErrNotPDF, "%s is a directory", path)
	}
	if err := e.checkNameAndSize(path, info.Size()); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "pdftext: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return 0, eris.Wrapf(ErrNotPDF, "%s has no PDF header", filepath.Base(path))
	}
	return info.Size(), nil
}

// ValidateBytes applies the same checks to an in-memory upload.
func (e *Extractor) ValidateBytes(name string, data []byte) error {
	if err := e.checkNameAndSize(name, int64(len(data))); err != nil {
		return err
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return eris.Wrapf(ErrNotPDF, "%s has no PDF header", name)
	}
	return nil
}

func (e *Extractor) checkNameAndSize(name string, size int64) error {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return eris.Wrapf(ErrNotPDF, "%s: only .pdf files are accepted", filepath.Base(name))
	}
	if size == 0 {
		return eris.Wrapf(ErrEmptyFile, "%s", filepath.Base(name))
	}
	if size > e.maxBytes {
		return eris.Wrapf(ErrFileTooLarge, "%s is %d bytes, limit is %d", filepath.Base(name), size, e.maxBytes)
	}
	return nil
}

// ExtractBytes writes data to a scoped temp file and extracts it. The temp
// file is removed before ExtractBytes returns.
func (e *Extractor) ExtractBytes(ctx context.Context, name string, data []byte) (*Document, error) {
	if err := e.ValidateBytes(name, data); err != nil {
		return nil, err
	}
	var doc *Document
	err := WithTempFile(e.tempDir, data, func(path string) error {
		var err error
		doc, err = e.Extract(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc.FileName = filepath.Base(name)
	return doc, nil
}

// Extract reads the PDF at path. Input problems and total failure are
// returned as errors; page failures are recorded on the Document.
func (e *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	size, err := e.ValidateFile(path)
	if err != nil {
		return nil, err
	}
	doc := &Document{FileName: filepath.Base(path), SizeBytes: size}

	src, openErr := e.open(path)
	if openErr == nil {
		defer src.Close() //nolint:errcheck
		doc.PageCount = src.NumPage()
		e.readLayout(src, doc)
		if strings.TrimSpace(doc.Text) == "" {
			e.readPlain(src, doc)
		}
	} else {
		doc.Errors = append(doc.Errors, "pdf reader failed: "+openErr.Error())
		zap.L().Warn("pdftext: reader could not open document",
			zap.String("file", doc.FileName),
			zap.Error(openErr),
		)
		if e.cli == nil {
			return nil, eris.Wrapf(ErrExtractionFailed, "%s: %v", doc.FileName, openErr)
		}
	}

	if strings.TrimSpace(doc.Text) == "" && e.cli != nil {
		if err := e.readCLI(ctx, path, doc); err != nil && openErr != nil {
			return nil, eris.Wrapf(ErrExtractionFailed, "%s: %v", doc.FileName, err)
		}
	}

	finish(doc)
	zap.L().Info("pdftext: extracted document",
		zap.String("file", doc.FileName),
		zap.String("method", doc.Method),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("tables", len(doc.Tables)),
		zap.Int("chars", len(doc.Text)),
		zap.Float64("confidence", doc.Confidence),
	)
	return doc, nil
}

func (e *Extractor) readLayout(src source, doc *Document) {
	var pages []Page
	var tables []Table
	for n := 1; n <= doc.PageCount; n++ {
		var rows []row
		err := safely(func() error {
			var err error
			rows, err = src.Rows(n)
			return err
		})
		if err != nil {
			doc.Errors = append(doc.Errors, "page "+strconv.Itoa(n)+" layout extraction failed: "+err.Error())
			continue
		}
		lines := layoutLines(rows)
		text := joinLines(lines)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, newPage(n, text))
		for _, t := range detectTables(lines) {
			t.Page = n
			t.Index = len(tables)
			tables = append(tables, t)
		}
	}
	if len(pages) > 0 {
		doc.Method = MethodLayout
		doc.Pages = pages
		doc.Tables = tables
		doc.Text = joinPages(pages)
	}
}

func (e *Extractor) readPlain(src source, doc *Document) {
	var pages []Page
	for n := 1; n <= doc.PageCount; n++ {
		var text string
		err := safely(func() error {
			var err error
			text, err = src.PlainText(n)
			return err
		})
		if err != nil {
			doc.Errors = append(doc.Errors, "page "+strconv.Itoa(n)+" extraction failed: "+err.Error())
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, newPage(n, strings.TrimSpace(text)))
	}
	if len(pages) > 0 {
		doc.Method = MethodPlain
		doc.Pages = pages
		doc.Text = joinPages(pages)
	}
}

func (e *Extractor) readCLI(ctx context.Context, path string, doc *Document) error {
	out, err := e.cli.ExtractText(ctx, path)
	if err != nil {
		doc.Errors = append(doc.Errors, "pdftotext failed: "+err.Error())
		return err
	}
	var pages []Page
	for i, text := range strings.Split(out, "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, newPage(i+1, strings.TrimRight(text, "\n ")))
	}
	if doc.PageCount == 0 {
		doc.PageCount = len(pages)
	}
	if len(pages) > 0 {
		doc.Method = MethodPdfToText
		doc.Pages = pages
		doc.Tables = nil
		doc.Text = joinPages(pages)
	}
	return nil
}

func finish(doc *Document) {
	doc.Successful = strings.TrimSpace(doc.Text) != ""
	if !doc.Successful {
		doc.Confidence = 0
		doc.Warnings = append(doc.Warnings, WarningNoText)
		return
	}
	doc.Confidence = QualityScore(Quality{
		Text:   doc.Text,
		Pages:  len(doc.Pages),
		Tables: len(doc.Tables),
		Errors: len(doc.Errors),
	})
}

func newPage(n int, text string) Page {
	return Page{Number: n, Text: text, CharCount: len([]rune(text))}
}

func joinPages(pages []Page) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n\n")
}
