package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hark/audio"
	"hark/capture"
	"hark/config"
	"hark/dispatch"
	"hark/generate"
	"hark/hotkey"
	"hark/log"
	"hark/session"
	"hark/shutdown"
	"hark/transcriber"
)

var version = "dev"

// shutdownGrace bounds how long quitting waits for an in-flight answer.
const shutdownGrace = 2 * time.Second

func run() {
	configFlag := flag.String("config", "", "config file (default: hark.yaml in . or ./config)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	testFlag := flag.String("test", "", "headless stdin-driven mode, capturing from this WAV file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("hark %s\n", version)
		return
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	tr, err := transcriber.New(cfg.TranscriberConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	gen, err := generate.New(cfg.GeneratorConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.SessionStart(tr.Name(), gen.Name(), gen.Model())

	if *testFlag != "" {
		code := runTestMode(cfg, tr, gen, *testFlag)
		log.Close()
		os.Exit(code)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	// Pre-open the transcription connection so the first upload skips TLS setup.
	if w, ok := tr.(interface{ Warm() }); ok {
		go w.Warm()
	}

	if err := runTUI(cfg, actx, tr, gen); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func runTUI(cfg *config.Config, actx audio.Context, tr transcriber.Transcriber, gen generate.Generator) error {
	q := dispatch.New()
	defer q.Close()

	chat := newChatView(cfg.RenderOptions())
	ctrl := session.New(actx, tr, gen, q, chat, cfg.Session())

	p := tea.NewProgram(
		newTUIModel(ctrl, chat, infoLine(tr.Name(), gen.Name(), gen.Model())),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump(ctx, q, p)

	sigCtx, stop := shutdown.Context(ctx)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if ctx.Err() == nil {
			log.Info("signal received, quitting")
			p.Quit()
		}
	}()

	if cfg.Hotkey.Enabled {
		hk := hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey %s unavailable: %v", hotkey.Combo, err)
		} else {
			defer hk.Unregister()
			driveHotkey(ctx, hk, ctrl)
		}
	}

	_, err := p.Run()
	cancel()
	stopController(ctrl)
	return err
}

// driveHotkey maps hotkey start/stop signals onto microphone capture.
func driveHotkey(ctx context.Context, hk hotkey.Hotkey, ctrl *session.Controller) {
	hy := hotkey.NewHybrid(hk, hotkey.DefaultLongPress)
	go hy.Run(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hy.Start():
				if _, err := ctrl.Start(capture.Microphone); err != nil {
					log.Warnf("hotkey start: %v", err)
				}
			case mode := <-hy.Stop():
				err := ctrl.Stop()
				if err != nil && !errors.Is(err, session.ErrNoActiveSession) {
					log.Warnf("hotkey stop (%s): %v", mode, err)
				}
			}
		}
	}()
}

func stopController(ctrl *session.Controller) {
	done := make(chan struct{})
	go func() {
		ctrl.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("shutdown: in-flight work abandoned")
	}
	log.SessionEnd(ctrl.Queries())
}

// initCrashLog sends fatal runtime output to crash_log.txt.
func initCrashLog() {
	if log.Dir() == "" {
		return
	}
	log.Crash("=== session start ===")
	f, err := os.OpenFile(filepath.Join(log.Dir(), log.CrashFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	debug.SetCrashOutput(f, debug.CrashOptions{})
}
