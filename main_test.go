package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hark/audio"
	"hark/beep"
	"hark/generate"
	"hark/render"
	"hark/session"
	"hark/transcriber"
)

func TestMain(m *testing.M) {
	beep.Disable()
	os.Exit(m.Run())
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func fakeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	samples := make([]int16, audio.SampleRate/2)
	for i := range samples {
		samples[i] = int16((i % 200) * 50)
	}
	if err := audio.WriteWAV(path, samples, audio.SampleRate); err != nil {
		t.Fatal(err)
	}
	return path
}

func runScript(t *testing.T, script string, tr transcriber.Transcriber, gen generate.Generator) string {
	t.Helper()
	actx, err := audio.NewFakeContextFromWAV(fakeWAV(t), false)
	if err != nil {
		t.Fatal(err)
	}
	scfg := session.Config{
		PollInterval:   5 * time.Millisecond,
		RecordingPath:  filepath.Join(t.TempDir(), "recorded_audio.wav"),
		CaptureTimeout: time.Second,
		QueryTimeout:   time.Second,
	}
	var out lockedBuffer
	if code := drive(strings.NewReader(script), &out, actx, tr, gen, render.Options{Separator: "\n"}, scfg); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	return out.String()
}

func TestDriveVoiceQuery(t *testing.T) {
	tr := transcriber.NewFake("what time is it", nil)
	gen := &generate.Fake{ModelName: "llama3.2", Chunks: []string{"It is ", "noon."}}

	out := runScript(t, "MIC\nSLEEP 50\nSTOP\nWAIT\nDUMP\nQUIT\n", tr, gen)

	for _, want := range []string{
		"STATE recording_mic",
		"STATE processing",
		"STATE idle",
		"[USER]: what time is it\n",
		"[LLAMA3.2]: It is noon.\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if tr.Calls() != 1 {
		t.Errorf("transcriber calls = %d", tr.Calls())
	}
	if p := gen.Prompts(); len(p) != 1 || p[0] != "what time is it" {
		t.Errorf("prompts = %q", p)
	}
}

func TestDriveTypedQueryAndRejection(t *testing.T) {
	gen := &generate.Fake{ModelName: "m", Chunks: []string{"ok"}, Delay: 20 * time.Millisecond}
	out := runScript(t, "ASK hi\nASK again\nWAIT\nDUMP\nSTOP\nBOGUS\n", transcriber.NewFake("", nil), gen)

	if !strings.Contains(out, "[USER]: hi\n") || !strings.Contains(out, "[M]: ok\n") {
		t.Errorf("answer not rendered:\n%s", out)
	}
	if strings.Contains(out, "[USER]: again") {
		t.Error("second query accepted while busy")
	}
	for _, want := range []string{
		"ERR " + session.ErrSessionAlreadyActive.Error(),
		"ERR " + session.ErrNoActiveSession.Error(),
		`ERR unknown command "BOGUS"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDriveHotkeyTap(t *testing.T) {
	tr := transcriber.NewFake("hotkey", nil)
	gen := &generate.Fake{ModelName: "m", Chunks: []string{"yes"}}
	out := runScript(t, "KEYDOWN\nKEYUP\nSLEEP 50\nKEYDOWN\nKEYUP\nSLEEP 50\nWAIT\nDUMP\n", tr, gen)

	if !strings.Contains(out, "[USER]: hotkey\n") || !strings.Contains(out, "[M]: yes\n") {
		t.Errorf("hotkey recording not processed:\n%s", out)
	}
}

func TestDriveLoopback(t *testing.T) {
	tr := transcriber.NewFake("from speakers", nil)
	gen := &generate.Fake{ModelName: "m", Chunks: []string{"heard"}}
	out := runScript(t, "SPEAKER\nSLEEP 50\nSTOP\nWAIT\nDUMP\n", tr, gen)

	if !strings.Contains(out, "STATE recording_speaker") || !strings.Contains(out, "[M]: heard") {
		t.Errorf("loopback flow:\n%s", out)
	}
}

func TestChatViewVisibleFraction(t *testing.T) {
	cv := newChatView(render.Options{Debounce: 1})
	if f := cv.VisibleFraction(); f != 1 {
		t.Fatalf("empty fraction = %v", f)
	}
	cv.resize(40, 3)
	for i := 0; i < 10; i++ {
		cv.Info("line")
	}
	if !render.AtBottom(cv) {
		t.Fatalf("not following: offset %d of %d lines", cv.vp.YOffset, cv.vp.TotalLineCount())
	}
	cv.vp.SetYOffset(0)
	if render.AtBottom(cv) {
		t.Fatal("at bottom after scrolling to top")
	}
	cv.Info("more")
	if cv.vp.YOffset != 0 {
		t.Errorf("offset moved to %d while scrolled up", cv.vp.YOffset)
	}
}

func TestChatViewState(t *testing.T) {
	cv := newChatView(render.Options{})
	cv.SetState(session.RecordingSpeaker)
	if !cv.state.Recording() || sourceName(cv.state) != "speaker" {
		t.Errorf("state = %v", cv.state)
	}
}

func TestMeter(t *testing.T) {
	for _, tt := range []struct {
		level float64
		full  int
	}{
		{0, 0},
		{0.001, 0},
		{1, 10},
		{0.1, 7},
	} {
		got := meter(tt.level, 10)
		if n := strings.Count(got, "█"); n != tt.full {
			t.Errorf("meter(%v) = %q, %d full cells, want %d", tt.level, got, n, tt.full)
		}
	}
}

func TestNoticeFor(t *testing.T) {
	if noticeFor(nil) != "" {
		t.Error("nil error produced a notice")
	}
	if noticeFor(session.ErrSessionAlreadyActive) == "" || noticeFor(session.ErrNoActiveSession) == "" {
		t.Error("missing notice for sentinel errors")
	}
}
