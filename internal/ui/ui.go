// Package ui renders the tiled log windows and drives the monitor from
// the Bubble Tea event loop. Update is the single point where every
// filesystem event and timer tick is processed, so no window state is
// ever touched concurrently.
package ui

import (
	"log"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/mergemon/mergemon/internal/config"
	"github.com/mergemon/mergemon/internal/monitor"
)

// ProgramName is shown bold in the status bar.
const ProgramName = "mergemon"

// Options configures the UI.
type Options struct {
	Controller *monitor.Controller
	Config     config.Config
	FirstRoot  string
	Bell       *BellCounter
}

// BellCounter accumulates BEL characters seen while feeding windows;
// the model drains it after every controller call. Shared by pointer
// because tea models are passed by value.
type BellCounter struct{ pending int }

// Ring records one bell. Wired into the controller at startup.
func (b *BellCounter) Ring() { b.pending++ }

func (b *BellCounter) drain() int {
	n := b.pending
	b.pending = 0
	return n
}

type (
	tickMsg      time.Time
	fsEventMsg   fsnotify.Event
	watchErrMsg  struct{ err error }
	flashDoneMsg struct{}
)

// FSEvent wraps a watcher event for delivery via Program.Send.
func FSEvent(ev fsnotify.Event) tea.Msg { return fsEventMsg(ev) }

// WatchErr wraps a watcher error for delivery via Program.Send.
func WatchErr(err error) tea.Msg { return watchErrMsg{err} }

// shown pairs a visible window with its assigned region.
type shown struct {
	win    *monitor.Window
	region Region
}

// Model is the root Bubble Tea state.
type Model struct {
	ctrl      *monitor.Controller
	cfg       config.Config
	firstRoot string
	bell      *BellCounter
	keys      keyMap

	width  int
	height int
	ready  bool
	booted bool

	visible []shown
	flash   bool // visual bell in progress
	err     error
}

// New creates the model.
func New(opts Options) Model {
	bell := opts.Bell
	if bell == nil {
		bell = &BellCounter{}
	}
	return Model{
		ctrl:      opts.Controller,
		cfg:       opts.Config,
		firstRoot: opts.FirstRoot,
		bell:      bell,
		keys:      defaultKeyMap(),
	}
}

// Err returns the fatal error that terminated the loop, if any.
func (m Model) Err() error { return m.err }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.cfg.Wait(), func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.ctrl.SetScreenSize(msg.Height, msg.Width)
		// Discovery starts only once the backlog budget is known, so
		// catch-up content from already-running builds is retained.
		var err error
		if !m.booted {
			m.booted = true
			err = m.ctrl.Bootstrap()
		}
		return m.afterController(err)

	case tickMsg:
		err := m.ctrl.Tick(time.Now())
		return m.afterController(err, m.tickCmd())

	case fsEventMsg:
		err := m.ctrl.HandleEvent(fsnotify.Event(msg))
		return m.afterController(err)

	case watchErrMsg:
		log.Printf("watch error: %v", msg.err)
		return m, nil

	case flashDoneMsg:
		m.flash = false
		return m, nil
	}
	return m, nil
}

// afterController runs the shared post-processing of every controller
// call: fatal errors stop the loop, stale layouts trigger a region
// reassignment, pending bells are emitted.
func (m Model) afterController(err error, extra ...tea.Cmd) (tea.Model, tea.Cmd) {
	if err != nil {
		m.err = err
		return m, tea.Quit
	}
	if m.ready && m.ctrl.LayoutStale() {
		if err := m.relayout(); err != nil {
			m.err = err
			return m, tea.Quit
		}
	}

	cmds := extra
	if n := m.bell.drain(); n > 0 {
		if m.cfg.AudibleBell || !m.cfg.VisualBell {
			cmds = append(cmds, ringBell)
		}
		if m.cfg.VisualBell {
			m.flash = true
			cmds = append(cmds, flashCmd())
		}
	}
	return m, tea.Batch(cmds...)
}

// relayout recomputes regions for all non-inactive windows and replays
// each visible window's backlog into its fresh region.
func (m *Model) relayout() error {
	var candidates []*monitor.Window
	for _, w := range m.ctrl.Windows() {
		if w.Inactive() {
			m.ctrl.ClearRegion(w)
			continue
		}
		candidates = append(candidates, w)
	}

	regions := Layout(m.height, len(candidates))
	m.visible = m.visible[:0]
	for i, w := range candidates {
		if i >= len(regions) {
			m.ctrl.ClearRegion(w)
			continue
		}
		if err := m.ctrl.AssignRegion(w, regions[i].Rows, m.width); err != nil {
			return err
		}
		m.visible = append(m.visible, shown{win: w, region: regions[i]})
	}
	return nil
}

func ringBell() tea.Msg {
	os.Stdout.WriteString("\a")
	return nil
}

func flashCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(time.Time) tea.Msg { return flashDoneMsg{} })
}
