// Package monitor owns the set of job windows and the discovery and
// liveness state machine driving them. Filesystem events and timer
// ticks come in; window creation, activity, deactivation and removal
// come out. The package never touches the real terminal.
package monitor

import (
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mergemon/mergemon/internal/backlog"
	"github.com/mergemon/mergemon/internal/config"
	"github.com/mergemon/mergemon/internal/discover"
	"github.com/mergemon/mergemon/internal/lockfile"
	"github.com/mergemon/mergemon/internal/tailer"
	"github.com/mergemon/mergemon/internal/vterm"
)

// Watcher is the slice of fsnotify.Watcher the controller needs;
// narrowed so tests can run without a real watch.
type Watcher interface {
	Add(name string) error
	Remove(name string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLockProber replaces the advisory-lock probe.
func WithLockProber(probe func(string) (lockfile.Status, error)) Option {
	return func(c *Controller) { c.probe = probe }
}

// WithBell installs the callback for BEL characters in any window.
func WithBell(fn func()) Option {
	return func(c *Controller) { c.bell = fn }
}

// Controller reconciles the two liveness signals (lock-release events
// and lock polls) for every discovered build, and keeps the ordered
// window registry the layout renders from.
type Controller struct {
	cfg   config.Config
	roots *discover.Roots

	watcher Watcher
	clock   func() time.Time
	probe   func(string) (lockfile.Status, error)
	pairs   *vterm.PairCache
	bell    func()

	windows []*Window // discovery order, stable for display
	byID    map[string]*Window

	backlogCap  int
	lastRescan  time.Time
	layoutStale bool
}

// New creates a controller. watcher may be nil (tests, or platforms
// without a working watch); the timers then carry discovery alone.
func New(cfg config.Config, roots *discover.Roots, watcher Watcher, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		roots:   roots,
		watcher: watcher,
		clock:   time.Now,
		probe:   lockfile.Check,
		pairs:   vterm.NewPairCache(cfg.MaxColorPairs),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap registers the recursive root watches, the fetch-log watch,
// and picks up builds that were already running unless configured not
// to.
func (c *Controller) Bootstrap() error {
	for _, dir := range c.roots.Tempdirs() {
		c.watchTree(dir)
	}
	if c.cfg.WatchFetch {
		c.watchAdd(c.cfg.FetchLog)
		w, err := c.ensureFetchWindow()
		if err != nil {
			return err
		}
		if w != nil {
			if err := c.pullAppend(w); err != nil {
				return err
			}
		}
	}
	if !c.cfg.OmitRunning {
		return c.RescanNow(c.clock())
	}
	c.lastRescan = c.clock()
	return nil
}

// watchTree registers watches on dir and every interesting directory
// below it. Missing directories are fine; they will be seen on create.
func (c *Controller) watchTree(dir string) {
	if c.watcher == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if !c.roots.WatchDir(path) {
			return filepath.SkipDir
		}
		c.watchAdd(path)
		return nil
	})
}

func (c *Controller) watchAdd(path string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Add(path); err != nil {
		log.Printf("watch %s: %v", path, err)
	}
}

func (c *Controller) watchRemove(path string) {
	if c.watcher == nil {
		return
	}
	// The watch may already be gone along with the file.
	_ = c.watcher.Remove(path)
}

// SetScreenSize recomputes the backlog budget: enough to repaint a
// window that becomes the only one on screen.
func (c *Controller) SetScreenSize(rows, cols int) {
	capacity := (rows - 2) * cols
	if capacity < 0 {
		capacity = 0
	}
	c.backlogCap = capacity
	for _, w := range c.windows {
		w.backlog.SetCap(capacity)
	}
	c.layoutStale = true
}

// Windows returns the registry in discovery order.
func (c *Controller) Windows() []*Window { return c.windows }

// Lookup returns the window for a source ID, or nil.
func (c *Controller) Lookup(id string) *Window {
	return c.byID[id]
}

// MergeCount counts monitored builds; the fetch window never counts.
func (c *Controller) MergeCount() int {
	n := 0
	for _, w := range c.windows {
		if !w.IsFetch() {
			n++
		}
	}
	return n
}

// LayoutStale reports and clears the pending-relayout flag.
func (c *Controller) LayoutStale() bool {
	stale := c.layoutStale
	c.layoutStale = false
	return stale
}

// AssignRegion gives a window a rows×cols region and replays its
// backlog into it.
func (c *Controller) AssignRegion(w *Window, rows, cols int) error {
	opts := []vterm.Option{}
	if c.bell != nil {
		opts = append(opts, vterm.WithBell(c.bell))
	}
	if c.cfg.Strict {
		opts = append(opts, vterm.WithStrict())
	}
	return w.setRegion(vterm.New(rows, cols, c.pairs, opts...))
}

// ClearRegion hides a window from the screen.
func (c *Controller) ClearRegion(w *Window) { w.clearRegion() }

// HandleEvent processes one filesystem notification. Only strict-mode
// rendering failures and broken lock probes surface as errors;
// everything else is transient and retried by the timers.
func (c *Controller) HandleEvent(ev fsnotify.Event) error {
	switch {
	case ev.Op.Has(fsnotify.Create):
		return c.handleCreate(ev.Name)
	case ev.Op.Has(fsnotify.Write):
		return c.handleWrite(ev.Name)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		c.handleGone(ev.Name)
	}
	return nil
}

func (c *Controller) handleCreate(path string) error {
	if c.roots.WatchDir(path) {
		// A new directory level of interest; watch it and anything
		// already created underneath before our watch landed.
		c.watchTree(path)
		return nil
	}
	if src, ok := c.roots.ClassifyLog(path); ok {
		if _, err := c.addWindow(src); err != nil {
			return err
		}
		// A fresh build log also resets the rescan clock, matching
		// the explicit-creation path of discovery.
		c.lastRescan = c.clock()
	}
	return nil
}

func (c *Controller) handleWrite(path string) error {
	if c.cfg.WatchFetch && path == c.cfg.FetchLog {
		w, err := c.ensureFetchWindow()
		if err != nil || w == nil {
			return err
		}
		return c.pullAppend(w)
	}
	if src, ok := c.roots.ClassifyLog(path); ok {
		if w := c.byID[src.ID()]; w != nil {
			return c.pullAppend(w)
		}
	}
	return nil
}

// handleGone reacts to a path disappearing: a released build lock is
// the event-driven half of liveness, a missing log forces the window
// out regardless of lock state.
func (c *Controller) handleGone(path string) {
	if src, ok := c.roots.ClassifyLock(path); ok {
		if w := c.byID[src.ID()]; w != nil {
			c.closeEvent(w)
		}
		return
	}
	if src, ok := c.roots.ClassifyLog(path); ok {
		if w := c.byID[src.ID()]; w != nil {
			c.removeWindow(w)
		}
	}
}

// closeEvent applies the close-expectation accounting: lock probes
// announce themselves by incrementing the counter, so an expected event
// is absorbed instead of tearing the window down. Windows without a
// lock path are never removed by events.
func (c *Controller) closeEvent(w *Window) {
	if w.expectClose > 0 {
		w.expectClose--
		return
	}
	if w.lockPath == "" {
		return
	}
	c.removeWindow(w)
}

// addWindow opens a tailer for the source and registers the window.
// An unreadable log is not an error: the source simply is not active
// yet and will be retried on the next event or rescan.
func (c *Controller) addWindow(src discover.Source) (*Window, error) {
	if w := c.byID[src.ID()]; w != nil {
		// Same path showed up again: the log was rotated or a new
		// build reuses the directory.
		if err := w.tail.Reopen(int64(c.backlogCap)); err != nil {
			log.Printf("reopen %s: %v", src.ID(), err)
		}
		return w, nil
	}

	tail, err := tailer.Open(src.LogPath(), int64(c.backlogCap))
	if err != nil {
		log.Printf("source %s not readable yet: %v", src.ID(), err)
		return nil, nil
	}

	now := c.clock()
	w := &Window{
		id:        src.ID(),
		src:       src,
		lockPath:  src.LockPath(),
		tail:      tail,
		backlog:   backlog.New(c.backlogCap),
		activity:  now,
		lockCheck: now,
		lastPull:  now,
	}
	c.register(w)
	c.watchAdd(src.LogPath())
	c.watchAdd(src.LockPath())
	return w, nil
}

// ensureFetchWindow creates the fetch window if it does not exist yet.
// Normally that happens at startup; if the fetch log was unreadable
// then, the first write event retries here.
func (c *Controller) ensureFetchWindow() (*Window, error) {
	if w := c.byID[discover.FetchID]; w != nil {
		return w, nil
	}
	tail, err := tailer.Open(c.cfg.FetchLog, int64(c.backlogCap))
	if err != nil {
		log.Printf("fetch log not readable: %v", err)
		return nil, nil
	}
	now := c.clock()
	w := &Window{
		id:        discover.FetchID,
		tail:      tail,
		backlog:   backlog.New(c.backlogCap),
		activity:  now,
		lockCheck: now,
		lastPull:  now,
	}
	c.register(w)
	return w, nil
}

func (c *Controller) register(w *Window) {
	if c.byID == nil {
		c.byID = make(map[string]*Window)
	}
	c.windows = append(c.windows, w)
	c.byID[w.id] = w
	c.layoutStale = true
}

func (c *Controller) removeWindow(w *Window) {
	w.tail.Close()
	if w.lockPath != "" {
		c.watchRemove(w.lockPath)
		c.watchRemove(w.src.LogPath())
	}
	delete(c.byID, w.id)
	for i, other := range c.windows {
		if other == w {
			c.windows = append(c.windows[:i], c.windows[i+1:]...)
			break
		}
	}
	c.layoutStale = true
}

// pullAppend reads whatever the log gained and feeds it to the window.
func (c *Controller) pullAppend(w *Window) error {
	w.lastPull = c.clock()
	data, err := w.tail.Pull()
	if err != nil {
		log.Printf("pull %s: %v", w.id, err)
		return nil
	}
	if data == "" {
		return nil
	}
	return c.append(w, data)
}

// append records activity, reinstating an idle window, and routes the
// chunk through backlog and live region.
func (c *Controller) append(w *Window, text string) error {
	w.activity = c.clock()
	if w.inactive {
		w.inactive = false
		c.layoutStale = true
	}
	w.backlog.Append(text)
	return w.feed(text)
}

// Tick runs the timer work: forced pulls, the inactivity sweep, lock
// polls, and the periodic rescan. Called once per event-loop wake.
func (c *Controller) Tick(now time.Time) error {
	pull := c.cfg.Pull()
	inact := c.cfg.Inactivity()
	lockEvery := c.cfg.LockCheck()

	var finished []*Window
	for _, w := range c.windows {
		if pull > 0 && now.Sub(w.lastPull) >= pull {
			if err := c.pullAppend(w); err != nil {
				return err
			}
		}

		if inact > 0 && !w.inactive && now.Sub(w.activity) >= inact {
			w.inactive = true
			c.layoutStale = true
		}

		// The poll half of liveness. Runs on idle windows, or on all
		// of them when inactivity detection is off. A probe that finds
		// the lock free has acquired and released it, which the watch
		// cannot tell apart from the builder finishing; announcing
		// that through expectClose keeps the event half honest. A held
		// lock is never acquired, so there is nothing to announce and
		// the genuine close event stays live.
		if w.lockPath != "" && (inact == 0 || w.inactive) && now.Sub(w.lockCheck) >= lockEvery {
			st, err := c.probe(w.lockPath)
			if err != nil {
				return fmt.Errorf("lock check %s: %w", w.id, err)
			}
			if st == lockfile.Held {
				w.lockCheck = c.clock()
			} else {
				w.expectClose++
				finished = append(finished, w)
			}
		}
	}
	for _, w := range finished {
		c.removeWindow(w)
	}

	if re := c.cfg.RescanEvery(); re > 0 && now.Sub(c.lastRescan) >= re {
		return c.RescanNow(now)
	}
	return nil
}

// RescanNow lists the lockfiles under every root and synthesizes
// window creation for held builds the watch never reported. The
// initial pull makes existing tail content visible immediately.
func (c *Controller) RescanNow(now time.Time) error {
	c.lastRescan = now
	for _, src := range c.roots.ScanLocks() {
		if c.byID[src.ID()] != nil {
			continue
		}
		st, err := c.probe(src.LockPath())
		if err != nil {
			return fmt.Errorf("lock check %s: %w", src.ID(), err)
		}
		if st != lockfile.Held {
			continue
		}
		w, err := c.addWindow(src)
		if err != nil {
			return err
		}
		if w != nil {
			if err := c.pullAppend(w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close tears down every window's file handle.
func (c *Controller) Close() {
	for _, w := range c.windows {
		w.tail.Close()
	}
}
