package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"hark/audio"
	"hark/beep"
	"hark/capture"
	"hark/config"
	"hark/dispatch"
	"hark/generate"
	"hark/hotkey"
	"hark/log"
	"hark/render"
	"hark/session"
	"hark/transcriber"
)

// textView keeps the rendered conversation in memory and is always at the
// bottom.
type textView struct{ content string }

func (v *textView) VisibleFraction() float64 { return 1 }
func (v *textView) SetContent(s string)      { v.content = s }
func (v *textView) ScrollToBottom()          {}

// headlessView prints state transitions and keeps the conversation for
// DUMP.
type headlessView struct {
	*render.Renderer
	out io.Writer
}

func (h *headlessView) SetState(s session.State) {
	fmt.Fprintf(h.out, "STATE %s\n", s)
}

// runTestMode drives the app from stdin commands, one per line:
//
//	MIC | SPEAKER        start recording from the WAV-backed device
//	STOP                 stop and process the recording
//	KEYDOWN | KEYUP      simulate the global hotkey
//	ASK <text>           submit a typed query
//	WAIT                 wait for background work and flush the view
//	DUMP                 print the conversation
//	SLEEP <ms>
//	QUIT
func runTestMode(cfg *config.Config, tr transcriber.Transcriber, gen generate.Generator, wavPath string) int {
	beep.Disable()

	actx, err := audio.NewFakeContextFromWAV(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	return drive(os.Stdin, os.Stdout, actx, tr, gen, cfg.RenderOptions(), cfg.Session())
}

func drive(in io.Reader, out io.Writer, actx audio.Context, tr transcriber.Transcriber, gen generate.Generator, opts render.Options, scfg session.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := dispatch.New()
	defer q.Close()
	go q.Run(ctx)

	view := &headlessView{Renderer: render.NewRenderer(&textView{}, opts), out: out}
	ctrl := session.New(actx, tr, gen, q, view, scfg)
	defer func() {
		ctrl.Shutdown()
		log.SessionEnd(ctrl.Queries())
	}()

	hk := hotkey.NewFake()
	driveHotkey(ctx, hk, ctrl)

	fail := func(err error) {
		if err != nil {
			fmt.Fprintf(out, "ERR %v\n", err)
		}
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "MIC":
			_, err := ctrl.Start(capture.Microphone)
			fail(err)
		case "SPEAKER":
			_, err := ctrl.Start(capture.SpeakerLoopback)
			fail(err)
		case "STOP":
			fail(ctrl.Stop())
		case "KEYDOWN":
			hk.SimKeydown()
		case "KEYUP":
			hk.SimKeyup()
		case "ASK":
			fail(ctrl.Submit(arg))
		case "WAIT":
			ctrl.Wait()
			fail(q.Flush(ctx))
		case "DUMP":
			done := make(chan struct{})
			q.Post(func() {
				fmt.Fprint(out, view.Content())
				close(done)
			})
			<-done
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return 0
		case "":
		default:
			fmt.Fprintf(out, "ERR unknown command %q\n", cmd)
		}
	}
	return 0
}
