package session

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hark/audio"
	"hark/capture"
	"hark/dispatch"
	"hark/generate"
	"hark/render"
	"hark/transcriber"
)

type fakeViewport struct {
	height, offset, lines int
}

func (v *fakeViewport) VisibleFraction() float64 {
	if v.lines == 0 {
		return 1
	}
	return math.Min(1, float64(v.offset+v.height)/float64(v.lines))
}

func (v *fakeViewport) SetContent(s string) { v.lines = strings.Count(s, "\n") + 1 }
func (v *fakeViewport) ScrollToBottom()     { v.offset = max(0, v.lines-v.height) }

type testView struct {
	*render.Renderer
	states []State
}

func (v *testView) SetState(s State) { v.states = append(v.states, s) }

type harness struct {
	t     *testing.T
	ctrl  *Controller
	view  *testView
	queue *dispatch.Queue
	actx  *audio.FakeContext
	tr    *transcriber.Fake
	gen   *generate.Fake
	path  string
}

func newHarness(t *testing.T, actx *audio.FakeContext, tr *transcriber.Fake, gen *generate.Fake) *harness {
	t.Helper()
	q := dispatch.New()
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() { q.Run(ctx); close(runDone) }()
	t.Cleanup(func() { cancel(); q.Close(); <-runDone })

	view := &testView{Renderer: render.NewRenderer(&fakeViewport{height: 5}, render.Options{Separator: "\n"})}
	path := filepath.Join(t.TempDir(), "recorded_audio.wav")
	ctrl := New(actx, tr, gen, q, view, Config{
		PollInterval:   2 * time.Millisecond,
		RecordingPath:  path,
		CaptureTimeout: 60 * time.Second,
		QueryTimeout:   30 * time.Second,
	})
	return &harness{t: t, ctrl: ctrl, view: view, queue: q, actx: actx, tr: tr, gen: gen, path: path}
}

func defaultDevices() *audio.FakeContext {
	return audio.NewFakeContext(
		audio.DeviceInfo{ID: "mic", Name: "Built-in Mic", InputChannels: 2, IsDefault: true},
	)
}

// settle waits for background work and drains the view queue.
func (h *harness) settle() {
	h.t.Helper()
	done := make(chan struct{})
	go func() { h.ctrl.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("controller did not finish")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.queue.Flush(ctx); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) openedCapture() *audio.FakeCapture {
	h.t.Helper()
	select {
	case c := <-h.actx.Opened():
		select {
		case <-c.Started():
			return c
		case <-time.After(2 * time.Second):
		}
	case <-time.After(2 * time.Second):
	}
	h.t.Fatal("capture did not start")
	return nil
}

func (h *harness) blocks(role render.Role) []render.Block {
	var out []render.Block
	for _, b := range h.view.Buffer().Blocks() {
		if b.Role == role {
			out = append(out, b)
		}
	}
	return out
}

func (h *harness) assertNoInProgress() {
	h.t.Helper()
	if _, ok := h.view.Buffer().InProgress(); ok {
		h.t.Error("in-progress block left behind")
	}
}

func TestStartWhileActiveHasNoSideEffect(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("x", nil), &generate.Fake{})
	if _, err := h.ctrl.Start(capture.Microphone); err != nil {
		t.Fatal(err)
	}
	h.openedCapture()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	h.queue.Flush(ctx)
	cancel()
	before := len(h.view.Buffer().Blocks())

	if _, err := h.ctrl.Start(capture.SpeakerLoopback); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second Start = %v, want ErrSessionAlreadyActive", err)
	}
	if err := h.ctrl.Submit("hi"); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("Submit while recording = %v", err)
	}
	if h.ctrl.State() != RecordingMic {
		t.Fatalf("state = %v", h.ctrl.State())
	}
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	h.queue.Flush(ctx)
	cancel()
	if after := len(h.view.Buffer().Blocks()); after != before {
		t.Errorf("rejected Start rendered %d entries", after-before)
	}

	h.ctrl.Stop()
	h.settle()
	if n := len(h.actx.Captures()); n != 1 {
		t.Errorf("captures opened = %d, want 1", n)
	}
}

func TestStopWithoutSession(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), &generate.Fake{})
	if err := h.ctrl.Stop(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Stop = %v, want ErrNoActiveSession", err)
	}
	if err := h.ctrl.Handle(StopCapture{}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Handle(StopCapture) = %v", err)
	}
}

func TestEmptyRecording(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("never", nil), &generate.Fake{})
	if err := h.ctrl.Handle(StartCapture{Source: capture.Microphone}); err != nil {
		t.Fatal(err)
	}
	h.openedCapture()
	if err := h.ctrl.Handle(StopCapture{}); err != nil {
		t.Fatal(err)
	}
	h.settle()

	errs := h.blocks(render.RoleError)
	if len(errs) != 1 || !strings.Contains(strings.ToLower(errs[0].Text), "empty recording") {
		t.Fatalf("error entries = %+v, want one EmptyRecording", errs)
	}
	if h.tr.Calls() != 0 {
		t.Errorf("transcriber called %d times", h.tr.Calls())
	}
	if len(h.gen.Prompts()) != 0 {
		t.Error("generation requested for empty recording")
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v, want idle", h.ctrl.State())
	}
	var stopped bool
	for _, b := range h.blocks(render.RoleInfo) {
		stopped = stopped || b.Text == "Recording stopped."
	}
	if !stopped {
		t.Errorf("no stop entry in %+v", h.blocks(render.RoleInfo))
	}
	want := []State{RecordingMic, Processing, Idle}
	if len(h.view.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.view.states, want)
	}
	for i := range want {
		if h.view.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", h.view.states, want)
		}
	}
}

func TestSilentRecordingStillGenerates(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), &generate.Fake{Chunks: []string{"ok"}})
	h.ctrl.Start(capture.Microphone)
	c := h.openedCapture()
	c.Inject(make([]int16, 2*4410))
	h.ctrl.Stop()
	h.settle()

	users := h.blocks(render.RoleUser)
	if len(users) != 1 || users[0].Text != "" || users[0].Label != "[USER]:" {
		t.Fatalf("user entries = %+v, want one empty [USER]: block", users)
	}
	prompts := h.gen.Prompts()
	if len(prompts) != 1 || prompts[0] != "" {
		t.Fatalf("prompts = %q, want one empty prompt", prompts)
	}
	if got := h.gen.Timeouts()[0]; got != 60*time.Second {
		t.Errorf("capture-triggered timeout = %v", got)
	}
	if paths := h.tr.Paths(); len(paths) != 1 || paths[0] != h.path {
		t.Errorf("transcribed %v, want %s", paths, h.path)
	}
	w, err := audio.ReadWAV(h.path)
	if err != nil {
		t.Fatal(err)
	}
	if w.Channels != 1 || len(w.Samples) != 4410 || w.SampleRate != audio.SampleRate {
		t.Errorf("recording = %d ch, %d samples @ %d Hz", w.Channels, len(w.Samples), w.SampleRate)
	}
	h.assertNoInProgress()
}

func TestSubmitQueryStreamsAnswer(t *testing.T) {
	gen := &generate.Fake{ModelName: "llama3.2", Chunks: []string{"He", "llo ", "world"}}
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), gen)
	if err := h.ctrl.Handle(SubmitQuery{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	h.settle()

	answers := h.blocks(render.RoleAssistant)
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	if a := answers[0]; a.Kind != render.Finalized || a.Text != "Hello world" || a.Label != "[LLAMA3.2]:" {
		t.Errorf("answer = %+v", a)
	}
	h.assertNoInProgress()
	if gen.Prompts()[0] != "hello" || gen.Timeouts()[0] != 30*time.Second {
		t.Errorf("request = %q / %v", gen.Prompts(), gen.Timeouts())
	}
	if users := h.blocks(render.RoleUser); len(users) != 1 || users[0].Text != "hello" {
		t.Errorf("user entries = %+v", users)
	}
	if len(h.blocks(render.RoleError)) != 0 {
		t.Error("unexpected error entry")
	}
	if h.ctrl.State() != Idle || h.ctrl.Queries() != 1 {
		t.Errorf("state = %v, queries = %d", h.ctrl.State(), h.ctrl.Queries())
	}
}

func TestGenerationFailureKeepsPartialAnswer(t *testing.T) {
	gen := &generate.Fake{
		Chunks: []string{"partial"},
		Err:    &generate.FailedError{Reason: generate.ReasonTimeout},
	}
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), gen)
	h.ctrl.Submit("q")
	h.settle()

	answers := h.blocks(render.RoleAssistant)
	if len(answers) != 1 || answers[0].Text != "partial" || answers[0].Kind != render.Finalized {
		t.Fatalf("answers = %+v", answers)
	}
	errs := h.blocks(render.RoleError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "timeout") {
		t.Fatalf("errors = %+v", errs)
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
	h.assertNoInProgress()

	// The user can retry.
	if err := h.ctrl.Submit("again"); err != nil {
		t.Fatal(err)
	}
	h.settle()
}

func TestGenerationOpenFailure(t *testing.T) {
	gen := &generate.Fake{OpenErr: &generate.FailedError{Reason: "request failed", Err: errors.New("connection refused")}}
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), gen)
	h.ctrl.Submit("q")
	h.settle()

	if n := len(h.blocks(render.RoleAssistant)); n != 0 {
		t.Errorf("answer blocks = %d, want 0", n)
	}
	if errs := h.blocks(render.RoleError); len(errs) != 1 || !strings.Contains(errs[0].Text, "connection refused") {
		t.Errorf("errors = %+v", errs)
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
}

func TestLoopbackDeviceNotFound(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), &generate.Fake{})
	if _, err := h.ctrl.Start(capture.SpeakerLoopback); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Fatalf("Start = %v, want ErrDeviceNotFound", err)
	}
	h.settle()

	errs := h.blocks(render.RoleError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "loopback") {
		t.Fatalf("errors = %+v", errs)
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
	for _, s := range h.view.states {
		if s == Processing {
			t.Error("entered processing without a device")
		}
	}
	if len(h.actx.Captures()) != 0 {
		t.Error("a capture device was opened")
	}
	if h.tr.Calls() != 0 {
		t.Error("transcriber called")
	}
	if _, ok := h.ctrl.Current(); ok {
		t.Error("session still current")
	}
}

func TestLoopbackNotFoundThenStop(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", nil), &generate.Fake{})
	h.ctrl.Start(capture.SpeakerLoopback)
	if err := h.ctrl.Stop(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Stop after missing device = %v, want ErrNoActiveSession", err)
	}
	h.settle()

	if len(h.view.states) != 0 {
		t.Errorf("states = %v, want none", h.view.states)
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
	if n := len(h.blocks(render.RoleError)); n != 1 {
		t.Errorf("error entries = %d, want 1", n)
	}
}

func TestTranscriptionError(t *testing.T) {
	boom := errors.New("503 service unavailable")
	gen := &generate.Fake{}
	h := newHarness(t, defaultDevices(), transcriber.NewFake("", boom), gen)
	h.ctrl.Start(capture.Microphone)
	h.openedCapture().Inject([]int16{1, 2, 3, 4})
	h.ctrl.Stop()
	h.settle()

	errs := h.blocks(render.RoleError)
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "transcription failed") {
		t.Fatalf("errors = %+v", errs)
	}
	if len(gen.Prompts()) != 0 {
		t.Error("generation requested after failed transcription")
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
}

func TestSpeakerLoopbackRecording(t *testing.T) {
	actx := audio.NewFakeContext(
		audio.DeviceInfo{ID: "mic", Name: "Mic", InputChannels: 1, IsDefault: true},
		audio.DeviceInfo{ID: "out.monitor", Name: "Monitor of Speakers", InputChannels: 2},
	)
	gen := &generate.Fake{Chunks: []string{"summary"}}
	h := newHarness(t, actx, transcriber.NewFake("meeting audio", nil), gen)
	h.ctrl.Toggle(capture.SpeakerLoopback)
	c := h.openedCapture()
	if c.Device().ID != "out.monitor" {
		t.Errorf("opened %q", c.Device().ID)
	}
	if h.ctrl.State() != RecordingSpeaker {
		t.Errorf("state = %v", h.ctrl.State())
	}
	c.Inject([]int16{100, 300})
	h.ctrl.Toggle(capture.SpeakerLoopback)
	h.settle()

	if p := gen.Prompts(); len(p) != 1 || p[0] != "meeting audio" {
		t.Errorf("prompts = %q", p)
	}
	w, err := audio.ReadWAV(h.path)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Samples) != 1 || w.Samples[0] != 200 {
		t.Errorf("downmixed recording = %v, want [200]", w.Samples)
	}
}

func TestShutdownAbandonsRecording(t *testing.T) {
	h := newHarness(t, defaultDevices(), transcriber.NewFake("x", nil), &generate.Fake{})
	h.ctrl.Start(capture.Microphone)
	h.openedCapture()

	done := make(chan struct{})
	go func() { h.ctrl.Shutdown(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked")
	}
	if h.tr.Calls() != 0 {
		t.Error("abandoned recording was transcribed")
	}
	if h.ctrl.State() != Idle {
		t.Errorf("state = %v", h.ctrl.State())
	}
}

func TestLabel(t *testing.T) {
	if got := Label("llama3.2"); got != "[LLAMA3.2]:" {
		t.Errorf("Label = %q", got)
	}
}
