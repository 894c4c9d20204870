package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mergemon/mergemon/internal/monitor"
)

var (
	boldStyle    = lipgloss.NewStyle().Bold(true)
	titleStyle   = lipgloss.NewStyle().Reverse(true)
	titleDim     = lipgloss.NewStyle().Reverse(true).Faint(true)
	flashedStyle = lipgloss.NewStyle().Reverse(true)
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	lines := make([]string, m.height)
	for _, s := range m.visible {
		term := s.win.Term()
		if term == nil {
			continue
		}
		rendered := term.RenderLines()
		for i := 0; i < s.region.Rows && i < len(rendered); i++ {
			row := s.region.Top + i
			if row >= 0 && row < m.height {
				lines[row] = rendered[i]
			}
		}
		if title := s.region.Top + s.region.Rows; title < m.height {
			lines[title] = m.titleBar(s.win)
		}
	}
	if m.height > 0 {
		lines[m.height-1] = m.statusBar()
	}
	return strings.Join(lines, "\n")
}

// titleBar renders the reverse-video label under a window: a fixed one
// for the fetch log, otherwise the package/version with the root noted
// when it is not the primary one.
func (m Model) titleBar(w *monitor.Window) string {
	if w.IsFetch() {
		return m.padBar(titleStyle.Render("(parallel fetch)"), "")
	}
	src := w.Source()
	label := titleStyle.Render(fmt.Sprintf("[%s/%s]", src.Category, src.Package))
	suffix := ""
	if src.Root != m.firstRoot {
		suffix = titleDim.Render(fmt.Sprintf(" (in %s)", src.Root))
	}
	return m.padBar(label, suffix)
}

// padBar fills the bar to the terminal width, clipping a label that is
// wider than the screen so the line never wraps.
func (m Model) padBar(label, suffix string) string {
	used := lipgloss.Width(label) + lipgloss.Width(suffix)
	if used > m.width {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(label + suffix)
	}
	pad := ""
	if used < m.width {
		pad = titleStyle.Render(strings.Repeat(" ", m.width-used))
	}
	return label + suffix + pad
}

// statusBar renders the bottom line: program name plus the merge count.
// During a visual bell the whole bar is inverted.
func (m Model) statusBar() string {
	name := boldStyle
	rest := lipgloss.NewStyle()
	if m.flash {
		name = name.Reverse(true)
		rest = flashedStyle
	}

	var b strings.Builder
	b.WriteString(name.Render(ProgramName))
	switch n := m.ctrl.MergeCount(); {
	case n == 0:
		b.WriteString(rest.Render(" (waiting for some merge to start)"))
	case n == 1:
		b.WriteString(rest.Render(" (monitoring "))
		b.WriteString(name.Render("single"))
		b.WriteString(rest.Render(" merge process)"))
	default:
		b.WriteString(rest.Render(" (monitoring "))
		b.WriteString(name.Render(fmt.Sprintf("%d", n)))
		b.WriteString(rest.Render(" parallel merges)"))
	}
	bar := b.String()
	if lipgloss.Width(bar) > m.width {
		bar = lipgloss.NewStyle().MaxWidth(m.width).Render(bar)
	}
	return bar
}
