package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mergemon/mergemon/internal/config"
	"github.com/mergemon/mergemon/internal/discover"
	"github.com/mergemon/mergemon/internal/lockfile"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

type fakeProber struct{ status map[string]lockfile.Status }

func (f *fakeProber) probe(path string) (lockfile.Status, error) {
	if st, ok := f.status[path]; ok {
		return st, nil
	}
	return lockfile.Absent, nil
}

type fixture struct {
	ctrl   *Controller
	clock  *fakeClock
	prober *fakeProber
	roots  *discover.Roots
	tmp    string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	tmp := t.TempDir()

	cfg := config.Default()
	cfg.Tempdirs = []string{tmp}
	cfg.WatchFetch = false
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	prober := &fakeProber{status: make(map[string]lockfile.Status)}
	roots := discover.New(cfg.Tempdirs)

	ctrl := New(cfg, roots, nil,
		WithClock(clock.Now),
		WithLockProber(prober.probe),
	)
	ctrl.SetScreenSize(24, 80)
	return &fixture{ctrl: ctrl, clock: clock, prober: prober, roots: roots, tmp: tmp}
}

// startBuild materializes a build on disk: lockfile plus log content.
func (f *fixture) startBuild(t *testing.T, category, pkg, logContent string) discover.Source {
	t.Helper()
	src := discover.Source{
		Root:     filepath.Join(f.tmp, "portage"),
		Category: category,
		Package:  pkg,
	}
	if err := os.MkdirAll(filepath.Dir(src.LogPath()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src.LogPath(), []byte(logContent), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(src.LockPath(), nil, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	f.prober.status[src.LockPath()] = lockfile.Held
	return src
}

func (f *fixture) createEvent(t *testing.T, src discover.Source) *Window {
	t.Helper()
	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LogPath(), Op: fsnotify.Create}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return f.ctrl.Lookup(src.ID())
}

func TestCreateEventOpensWindow(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "configuring\n")

	w := f.createEvent(t, src)
	if w == nil {
		t.Fatal("no window created")
	}
	if w.ID() != src.ID() {
		t.Fatalf("window id = %q, want %q", w.ID(), src.ID())
	}
	if f.ctrl.MergeCount() != 1 {
		t.Fatalf("merge count = %d, want 1", f.ctrl.MergeCount())
	}
	if !f.ctrl.LayoutStale() {
		t.Fatal("window creation did not request relayout")
	}
}

func TestAtMostOneWindowPerSource(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "hello\n")
	f.createEvent(t, src)
	f.createEvent(t, src)
	if got := len(f.ctrl.Windows()); got != 1 {
		t.Fatalf("windows = %d, want 1", got)
	}
}

func TestWriteEventAppends(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "")
	w := f.createEvent(t, src)

	fh, err := os.OpenFile(src.LogPath(), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fh.WriteString("compiling\n")
	fh.Close()

	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LogPath(), Op: fsnotify.Write}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if got := w.Backlog(); got != "compiling\n" {
		t.Fatalf("backlog = %q", got)
	}
}

func TestCreateEventMissingLogIsTransient(t *testing.T) {
	f := newFixture(t, nil)
	src := discover.Source{
		Root:     filepath.Join(f.tmp, "portage"),
		Category: "dev-lang",
		Package:  "ghost-1.0",
	}
	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LogPath(), Op: fsnotify.Create}); err != nil {
		t.Fatalf("transient open became an error: %v", err)
	}
	if f.ctrl.Lookup(src.ID()) != nil {
		t.Fatal("window created for unreadable log")
	}
}

func TestInactivitySweep(t *testing.T) {
	f := newFixture(t, nil) // default 30s timeout
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "start\n")
	w := f.createEvent(t, src)
	f.ctrl.LayoutStale()

	f.clock.advance(31 * time.Second)
	if err := f.ctrl.Tick(f.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !w.Inactive() {
		t.Fatal("window still active after timeout")
	}
	if !f.ctrl.LayoutStale() {
		t.Fatal("deactivation did not request relayout")
	}

	// New data reinstates the window.
	fh, _ := os.OpenFile(src.LogPath(), os.O_APPEND|os.O_WRONLY, 0)
	fh.WriteString("more\n")
	fh.Close()
	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LogPath(), Op: fsnotify.Write}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if w.Inactive() {
		t.Fatal("activity did not reinstate window")
	}
	if !f.ctrl.LayoutStale() {
		t.Fatal("reactivation did not request relayout")
	}
}

func TestInactivityDisabled(t *testing.T) {
	// inactivity_timeout=0 means no window ever goes idle.
	f := newFixture(t, func(c *config.Config) {
		c.InactivityTimeout = 0
		c.PullInterval = 0
		c.LockCheckInterval = 9999
		c.RescanInterval = 0
	})
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "start\n")
	w := f.createEvent(t, src)

	f.clock.advance(24 * time.Hour)
	if err := f.ctrl.Tick(f.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if w.Inactive() {
		t.Fatal("window went inactive with timeout disabled")
	}
}

func TestLockPollRemovesFinishedBuild(t *testing.T) {
	// A free lock with expectClose == 0 removes the window
	// immediately, incrementing the counter exactly once.
	f := newFixture(t, func(c *config.Config) {
		c.InactivityTimeout = 0 // poll applies to every window
		c.PullInterval = 0
		c.RescanInterval = 0
	})
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "done\n")
	w := f.createEvent(t, src)

	f.prober.status[src.LockPath()] = lockfile.Free
	f.clock.advance(16 * time.Second)
	if err := f.ctrl.Tick(f.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.ctrl.Lookup(src.ID()) != nil {
		t.Fatal("finished window not removed")
	}
	if w.ExpectClose() != 1 {
		t.Fatalf("expectClose = %d, want exactly 1", w.ExpectClose())
	}
}

func TestHeldPollKeepsCloseEventLive(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.InactivityTimeout = 0
		c.PullInterval = 0
		c.RescanInterval = 0
	})
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "building\n")
	w := f.createEvent(t, src)

	// A held lock is never acquired by the probe, so repeated polls
	// must not accumulate expected closes.
	for i := 0; i < 3; i++ {
		f.clock.advance(16 * time.Second)
		if err := f.ctrl.Tick(f.clock.Now()); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if w.ExpectClose() != 0 {
		t.Fatalf("expectClose = %d after held polls, want 0", w.ExpectClose())
	}
	if f.ctrl.Lookup(src.ID()) == nil {
		t.Fatal("held window was removed")
	}

	// The builder finishing still removes the window immediately
	// instead of being absorbed as a poll echo.
	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LockPath(), Op: fsnotify.Remove}); err != nil {
		t.Fatalf("remove event: %v", err)
	}
	if f.ctrl.Lookup(src.ID()) != nil {
		t.Fatal("genuine close event did not remove the window")
	}
	if w.ExpectClose() != 0 {
		t.Fatalf("expectClose went negative: %d", w.ExpectClose())
	}
}

func TestFetchWindowSurvivesCloseEvents(t *testing.T) {
	// The fetch window has no lock path, so no close event may ever
	// remove it.
	fetchLog := filepath.Join(t.TempDir(), "fetch.log")
	if err := os.WriteFile(fetchLog, []byte("fetching distfiles\n"), 0o644); err != nil {
		t.Fatalf("write fetch log: %v", err)
	}
	f := newFixture(t, func(c *config.Config) {
		c.WatchFetch = true
		c.FetchLog = fetchLog
	})

	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: fetchLog, Op: fsnotify.Write}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	w := f.ctrl.Lookup(discover.FetchID)
	if w == nil {
		t.Fatal("fetch window not created")
	}
	if !w.IsFetch() {
		t.Fatal("fetch window not flagged as fetch")
	}
	if f.ctrl.MergeCount() != 0 {
		t.Fatalf("fetch window counted as a merge: %d", f.ctrl.MergeCount())
	}

	for i := 0; i < 3; i++ {
		f.ctrl.closeEvent(w)
	}
	if f.ctrl.Lookup(discover.FetchID) == nil {
		t.Fatal("close event removed the fetch window")
	}
	if w.ExpectClose() != 0 {
		t.Fatalf("expectClose = %d, want 0 (never negative)", w.ExpectClose())
	}
}

func TestRescanPicksUpRunningBuild(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "sys-devel", "gcc-14.2.0", "installing\n")

	if err := f.ctrl.RescanNow(f.clock.Now()); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	w := f.ctrl.Lookup(src.ID())
	if w == nil {
		t.Fatal("rescan did not create a window")
	}
	// The initial pull makes tail content visible immediately.
	if got := w.Backlog(); got != "installing\n" {
		t.Fatalf("backlog = %q", got)
	}
}

func TestRescanIgnoresFreeLocks(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "sys-devel", "gcc-14.2.0", "stale\n")
	f.prober.status[src.LockPath()] = lockfile.Free

	if err := f.ctrl.RescanNow(f.clock.Now()); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if f.ctrl.Lookup(src.ID()) != nil {
		t.Fatal("window created for a stale lock")
	}
}

func TestForcedPull(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.PullInterval = 10
		c.RescanInterval = 0
	})
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "")
	w := f.createEvent(t, src)

	// Data arrives without any watch event.
	fh, _ := os.OpenFile(src.LogPath(), os.O_APPEND|os.O_WRONLY, 0)
	fh.WriteString("silent progress\n")
	fh.Close()

	f.clock.advance(11 * time.Second)
	if err := f.ctrl.Tick(f.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := w.Backlog(); got != "silent progress\n" {
		t.Fatalf("backlog = %q", got)
	}
}

func TestLogRemovalDropsWindow(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "x\n")
	f.createEvent(t, src)

	if err := f.ctrl.HandleEvent(fsnotify.Event{Name: src.LogPath(), Op: fsnotify.Remove}); err != nil {
		t.Fatalf("remove event: %v", err)
	}
	if f.ctrl.Lookup(src.ID()) != nil {
		t.Fatal("window survived its log disappearing")
	}
}

func TestRegionReplayDefersTrailingNewline(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "")
	w := f.createEvent(t, src)

	if err := f.ctrl.append(w, "first\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.ctrl.AssignRegion(w, 4, 20); err != nil {
		t.Fatalf("assign region: %v", err)
	}
	if got := w.Term().PlainLine(0); got != "first" {
		t.Fatalf("line 0 = %q", got)
	}
	// The deferred newline lands only when the next chunk arrives.
	if row, _ := w.Term().Cursor(); row != 0 {
		t.Fatalf("cursor row = %d, want 0 (newline deferred)", row)
	}
	if err := f.ctrl.append(w, "second\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := w.Term().PlainLine(1); got != "second" {
		t.Fatalf("line 1 = %q", got)
	}
}

func TestBacklogBudgetTracksScreen(t *testing.T) {
	f := newFixture(t, nil)
	src := f.startBuild(t, "dev-lang", "go-1.25.1", "")
	w := f.createEvent(t, src)

	f.ctrl.SetScreenSize(10, 10) // capacity (10-2)*10 = 80
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	if err := f.ctrl.append(w, string(long)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := len(w.Backlog()); got != 80 {
		t.Fatalf("backlog = %d runes, want 80", got)
	}
}
