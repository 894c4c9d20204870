package monitor

import (
	"strings"
	"time"

	"github.com/mergemon/mergemon/internal/backlog"
	"github.com/mergemon/mergemon/internal/discover"
	"github.com/mergemon/mergemon/internal/tailer"
	"github.com/mergemon/mergemon/internal/vterm"
)

// Window pairs one tailed log with its display and lifecycle state.
type Window struct {
	id       string
	src      discover.Source // zero value for the fetch window
	lockPath string          // empty for the fetch window

	tail    *tailer.Tailer
	backlog *backlog.Buffer
	term    *vterm.Term // nil while the window has no screen region

	pendingNewline bool
	activity       time.Time
	lockCheck      time.Time
	lastPull       time.Time
	expectClose    int
	inactive       bool
}

// ID returns the canonical source identifier.
func (w *Window) ID() string { return w.id }

// Source returns the build's directory tuple; meaningless for the
// fetch window.
func (w *Window) Source() discover.Source { return w.src }

// IsFetch reports whether this is the auxiliary fetch-log window.
func (w *Window) IsFetch() bool { return w.id == discover.FetchID }

// Inactive reports whether the window is idle and hidden from layout.
func (w *Window) Inactive() bool { return w.inactive }

// ExpectClose returns the close-expectation counter.
func (w *Window) ExpectClose() int { return w.expectClose }

// Term returns the window's embedded terminal, nil when hidden.
func (w *Window) Term() *vterm.Term { return w.term }

// Backlog returns the retained text.
func (w *Window) Backlog() string { return w.backlog.String() }

// feed writes a chunk into the live region. A trailing newline is
// deferred to the next chunk so an idle window does not end with a
// wasted blank row.
func (w *Window) feed(text string) error {
	if w.term == nil {
		return nil
	}
	if w.pendingNewline {
		if err := w.term.Feed("\n"); err != nil {
			return err
		}
	}
	w.pendingNewline = strings.HasSuffix(text, "\n")
	if w.pendingNewline {
		text = text[:len(text)-1]
	}
	return w.term.Feed(text)
}

// setRegion gives the window a fresh terminal and replays the backlog
// into it. Cursor and attribute state always restart from scratch;
// nothing survives a layout change except the backlog itself.
func (w *Window) setRegion(term *vterm.Term) error {
	w.term = term
	w.pendingNewline = false
	return w.feed(w.backlog.String())
}

// clearRegion hides the window. The backlog keeps accumulating.
func (w *Window) clearRegion() { w.term = nil }
