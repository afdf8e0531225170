package pdftext

import (
	"fmt"
	"os"
	"sort"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// glyph is a positioned run of text. Width and size may be zero when the
// reader does not report them.
type glyph struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

// row is the glyphs sharing one baseline.
type row struct {
	Y      float64
	Glyphs []glyph
}

// source is the page-level view of an opened PDF.
type source interface {
	NumPage() int
	Rows(page int) ([]row, error)
	PlainText(page int) (string, error)
	Close() error
}

type pdfSource struct {
	f *os.File
	r *pdf.Reader
}

func openPDF(path string) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "pdftext: open")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "pdftext: stat")
	}
	var r *pdf.Reader
	err = safely(func() error {
		var err error
		r, err = pdf.NewReader(f, info.Size())
		return err
	})
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "pdftext: parse")
	}
	return &pdfSource{f: f, r: r}, nil
}

func (s *pdfSource) NumPage() int {
	n := 0
	_ = safely(func() error {
		n = s.r.NumPage()
		return nil
	})
	return n
}

func (s *pdfSource) page(n int) (pdf.Page, error) {
	p := s.r.Page(n)
	if p.V.IsNull() {
		return p, eris.Errorf("page %d not found", n)
	}
	return p, nil
}

func (s *pdfSource) Rows(n int) ([]row, error) {
	p, err := s.page(n)
	if err != nil {
		return nil, err
	}
	pdfRows, err := p.GetTextByRow()
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(pdfRows))
	for _, r := range pdfRows {
		out := row{Y: float64(r.Position)}
		for _, t := range r.Content {
			out.Glyphs = append(out.Glyphs, glyph{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
		}
		rows = append(rows, out)
	}
	// Top of page first.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Y > rows[j].Y })
	return rows, nil
}

func (s *pdfSource) PlainText(n int) (string, error) {
	p, err := s.page(n)
	if err != nil {
		return "", err
	}
	return p.GetPlainText(nil)
}

func (s *pdfSource) Close() error { return s.f.Close() }

// safely runs fn and converts a panic from the PDF reader into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("pdf reader panic: %v", r))
		}
	}()
	return fn()
}
