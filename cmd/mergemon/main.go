package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mergemon/mergemon/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override config path (optional)")
	tempdirs := flag.String("tempdir", "", "comma-separated temp directories to watch (without the portage/ suffix)")
	inactivity := flag.Float64("inactivity", -1, "seconds before an idle build is shifted off the screen (0 disables)")
	lockCheck := flag.Float64("lock-check", -1, "seconds between lockfile checks on idle builds")
	rescan := flag.Float64("rescan", -1, "seconds between directory scans for missed builds (0 disables)")
	pull := flag.Float64("pull", -1, "max seconds between forced log reads (0 disables)")
	wait := flag.Float64("timeout", -1, "event wait timeout in seconds")
	visualBell := flag.Bool("visual-bell", false, "flash the screen instead of beeping")
	bothBells := flag.Bool("visual-audible-bell", false, "flash the screen and beep")
	noFetchLog := flag.Bool("no-fetchlog", false, "do not monitor the parallel-fetch log")
	omitRunning := flag.Bool("omit-running", false, "watch only builds started after the program")
	strict := flag.Bool("strict", false, "fail on unsupported escape sequences instead of ignoring them")
	debugLog := flag.String("debug-log", "", "append diagnostics to this file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath:        *configPath,
		Inactivity:        *inactivity,
		LockCheck:         *lockCheck,
		Rescan:            *rescan,
		Pull:              *pull,
		Wait:              *wait,
		VisualBell:        *visualBell,
		VisualAudibleBell: *bothBells,
		NoFetchLog:        *noFetchLog,
		OmitRunning:       *omitRunning,
		Strict:            *strict,
		DebugLog:          *debugLog,
	}
	if dirs := strings.TrimSpace(*tempdirs); dirs != "" {
		for _, d := range strings.Split(dirs, ",") {
			if d = strings.TrimSpace(d); d != "" {
				opts.Tempdirs = append(opts.Tempdirs, d)
			}
		}
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "mergemon: %v\n", err)
		return 1
	}
	return 0
}
