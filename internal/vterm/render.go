package vterm

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderLine renders one grid row as a styled string, grouping adjacent
// cells with identical state into single style applications.
func (t *Term) RenderLine(row int) string {
	if row < 0 || row >= t.rows {
		return ""
	}
	var out strings.Builder
	line := t.cells[row]
	for start := 0; start < t.cols; {
		style := line[start].Style
		end := start
		var run strings.Builder
		for end < t.cols && line[end].Style == style {
			r := line[end].Rune
			if r == 0 {
				r = ' '
			}
			run.WriteRune(r)
			end++
		}
		out.WriteString(styleFor(style).Render(run.String()))
		start = end
	}
	return out.String()
}

// RenderLines renders the whole grid, one string per row.
func (t *Term) RenderLines() []string {
	lines := make([]string, t.rows)
	for i := range lines {
		lines[i] = t.RenderLine(i)
	}
	return lines
}

// PlainLine returns the row's text without styling, right-trimmed.
// Used by tests and never by the renderer.
func (t *Term) PlainLine(row int) string {
	if row < 0 || row >= t.rows {
		return ""
	}
	var out strings.Builder
	for _, c := range t.cells[row] {
		if c.Rune == 0 {
			out.WriteRune(' ')
		} else {
			out.WriteRune(c.Rune)
		}
	}
	return strings.TrimRight(out.String(), " ")
}

func styleFor(s Style) lipgloss.Style {
	st := lipgloss.NewStyle()
	if s.Attr&AttrBold != 0 {
		st = st.Bold(true)
	}
	if s.Attr&AttrDim != 0 {
		st = st.Faint(true)
	}
	if s.Attr&AttrUnderline != 0 {
		st = st.Underline(true)
	}
	if s.Attr&AttrBlink != 0 {
		st = st.Blink(true)
	}
	if s.Attr&AttrReverse != 0 {
		st = st.Reverse(true)
	}
	if s.Fg != DefaultColor {
		st = st.Foreground(lipgloss.Color(strconv.Itoa(int(s.Fg))))
	}
	if s.Bg != DefaultColor {
		st = st.Background(lipgloss.Color(strconv.Itoa(int(s.Bg))))
	}
	return st
}
