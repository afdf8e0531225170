package pdftext

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	defaultFontSize = 10.0
	// charWidthRatio approximates an average glyph advance as a share of
	// the font size when the reader reports no width.
	charWidthRatio = 0.5
	// cellGapChars is the horizontal gap, in average characters, that
	// separates two table cells.
	cellGapChars = 3.0
	// wordGapChars is the gap that separates two words within a cell.
	wordGapChars = 0.3
)

// line is one row of page text split into cells at wide horizontal gaps.
type line struct {
	Cells []string
}

func (l line) text() string { return strings.Join(l.Cells, " ") }

// layoutLines turns positioned rows into lines of cells.
func layoutLines(rows []row) []line {
	var out []line
	for _, r := range rows {
		if l := buildLine(r.Glyphs); len(l.Cells) > 0 {
			out = append(out, l)
		}
	}
	return out
}

func buildLine(glyphs []glyph) line {
	gs := make([]glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			gs = append(gs, g)
		}
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].X < gs[j].X })

	var cells []string
	var cur strings.Builder
	prevEnd := 0.0
	flush := func() {
		if c := strings.TrimSpace(cur.String()); c != "" {
			cells = append(cells, collapseSpaces(c))
		}
		cur.Reset()
	}

	for i, g := range gs {
		charW := charWidth(g)
		if i > 0 {
			gap := g.X - prevEnd
			switch {
			case gap > cellGapChars*charW:
				flush()
			case gap > wordGapChars*charW && !endsWithSpace(cur.String()) && !strings.HasPrefix(g.S, " "):
				cur.WriteByte(' ')
			}
		}
		cur.WriteString(g.S)
		end := g.X + glyphWidth(g, charW)
		if end > prevEnd || i == 0 {
			prevEnd = end
		}
	}
	flush()
	return line{Cells: cells}
}

func charWidth(g glyph) float64 {
	fs := g.FontSize
	if fs <= 0 {
		fs = defaultFontSize
	}
	return fs * charWidthRatio
}

func glyphWidth(g glyph, charW float64) float64 {
	if g.W > 0 {
		return g.W
	}
	return float64(utf8.RuneCountInString(g.S)) * charW
}

func endsWithSpace(s string) bool {
	return s == "" || strings.HasSuffix(s, " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinLines(lines []line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.text()
	}
	return strings.Join(texts, "\n")
}

// detectTables groups runs of consecutive multi-cell lines into tables. A
// run needs at least two lines; short rows are padded to the table width.
func detectTables(lines []line) []Table {
	var tables []Table
	var run []line
	closeRun := func() {
		if len(run) >= 2 {
			tables = append(tables, toTable(run))
		}
		run = nil
	}
	for _, l := range lines {
		if len(l.Cells) >= 2 {
			run = append(run, l)
			continue
		}
		closeRun()
	}
	closeRun()
	return tables
}

func toTable(run []line) Table {
	width := 0
	for _, l := range run {
		if len(l.Cells) > width {
			width = len(l.Cells)
		}
	}
	rows := make([][]string, len(run))
	for i, l := range run {
		cells := make([]string, width)
		copy(cells, l.Cells)
		rows[i] = cells
	}
	return Table{Rows: rows}
}
