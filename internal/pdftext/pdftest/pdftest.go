// Package pdftest builds small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Run is a string drawn at an absolute position on a page, in points from
// the bottom-left corner.
type Run struct {
	X, Y float64
	Text string
}

// Page is the text runs drawn on one page.
type Page []Run

// Lines lays out one run per line starting near the top of a letter page.
func Lines(lines ...string) Page {
	p := make(Page, 0, len(lines))
	for i, l := range lines {
		p = append(p, Run{X: 72, Y: float64(720 - 16*i), Text: l})
	}
	return p
}

// Row lays out cells at fixed column offsets on one baseline.
func Row(y float64, cells ...string) []Run {
	out := make([]Run, 0, len(cells))
	for i, c := range cells {
		out = append(out, Run{X: float64(72 + 180*i), Y: y, Text: c})
	}
	return out
}

// Build returns a PDF with one page per argument, using the standard
// Helvetica font in WinAnsi encoding.
func Build(pages ...Page) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}

	catalog := add("") // filled in once the page tree exists
	pagesObj := add("")
	widths := strings.TrimSpace(strings.Repeat("500 ", 126-32+1))
	font := add(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths))

	var kids []string
	for _, p := range pages {
		var content strings.Builder
		for _, r := range p {
			fmt.Fprintf(&content, "BT /F1 10 Tf 1 0 0 1 %.0f %.0f Tm (%s) Tj ET\n", r.X, r.Y, escape(r.Text))
		}
		stream := content.String()
		contents := add(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pagesObj, font, contents))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	objs[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objs[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, catalog, xref)
	return buf.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
