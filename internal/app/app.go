// Package app wires configuration, the filesystem watcher, the
// monitor controller and the TUI together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/mergemon/mergemon/internal/config"
	"github.com/mergemon/mergemon/internal/discover"
	"github.com/mergemon/mergemon/internal/monitor"
	"github.com/mergemon/mergemon/internal/ui"
)

// Options carry the command-line overrides. Negative intervals mean
// "keep the configured value"; zero is meaningful (it disables the
// mechanism).
type Options struct {
	ConfigPath string
	Tempdirs   []string

	Inactivity float64
	LockCheck  float64
	Rescan     float64
	Pull       float64
	Wait       float64

	VisualBell        bool
	VisualAudibleBell bool
	NoFetchLog        bool
	OmitRunning       bool
	Strict            bool

	DebugLog string
}

func (o Options) apply(cfg config.Config) (config.Config, error) {
	if len(o.Tempdirs) > 0 {
		cfg.Tempdirs = o.Tempdirs
	}
	if o.Inactivity >= 0 {
		cfg.InactivityTimeout = o.Inactivity
	}
	if o.LockCheck >= 0 {
		cfg.LockCheckInterval = o.LockCheck
	}
	if o.Rescan >= 0 {
		cfg.RescanInterval = o.Rescan
	}
	if o.Pull >= 0 {
		cfg.PullInterval = o.Pull
	}
	if o.Wait >= 0 {
		cfg.WaitTimeout = o.Wait
	}
	if o.VisualBell {
		cfg.VisualBell = true
		cfg.AudibleBell = false
	}
	if o.VisualAudibleBell {
		cfg.VisualBell = true
		cfg.AudibleBell = true
	}
	if o.NoFetchLog {
		cfg.WatchFetch = false
	}
	if o.OmitRunning {
		cfg.OmitRunning = true
	}
	if o.Strict {
		cfg.Strict = true
	}
	return cfg.Normalize()
}

// Run starts the monitor and blocks until the context is cancelled or
// the user quits. The terminal is always restored; a fatal monitoring
// error is returned after teardown.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err = opts.apply(cfg)
	if err != nil {
		return err
	}

	if opts.DebugLog != "" {
		f, err := tea.LogToFile(opts.DebugLog, "mergemon")
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init filesystem watch: %w", err)
	}
	defer watcher.Close()

	roots := discover.New(cfg.Tempdirs)
	bell := &ui.BellCounter{}
	ctrl := monitor.New(cfg, roots, watcher, monitor.WithBell(bell.Ring))
	defer ctrl.Close()

	model := ui.New(ui.Options{
		Controller: ctrl,
		Config:     cfg,
		FirstRoot:  roots.First(),
		Bell:       bell,
	})
	program := tea.NewProgram(model, tea.WithContext(ctx))

	go forwardEvents(ctx, watcher, program)

	final, err := program.Run()
	if err != nil {
		// Context cancellation (^C) is a clean shutdown, not a fault.
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	if m, ok := final.(ui.Model); ok {
		return m.Err()
	}
	return nil
}

// forwardEvents pumps watcher notifications into the program, where
// they are processed on the single Update loop.
func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, program *tea.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			program.Send(ui.FSEvent(ev))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			program.Send(ui.WatchErr(err))
		}
	}
}
