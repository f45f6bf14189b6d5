// Package session ties capture, transcription and generation together
// behind one state machine. Every effect on the view is posted to a
// Dispatcher and runs on its consumer goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hark/audio"
	"hark/capture"
	"hark/generate"
	"hark/log"
	"hark/transcriber"
)

type State int

const (
	Idle State = iota
	RecordingMic
	RecordingSpeaker
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RecordingMic:
		return "recording_mic"
	case RecordingSpeaker:
		return "recording_speaker"
	case Processing:
		return "processing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Recording() bool { return s == RecordingMic || s == RecordingSpeaker }

type Dispatcher interface {
	Post(task func())
}

// View receives rendered entries. Its methods are only ever called from
// the dispatcher's consumer.
type View interface {
	Info(text string)
	Error(text string)
	User(text string)
	BeginAnswer(label string)
	Chunk(text string)
	EndAnswer()
	SetState(s State)
}

// Event is one of StartCapture, StopCapture or SubmitQuery.
type Event interface{ event() }

type StartCapture struct{ Source capture.Source }
type StopCapture struct{}
type SubmitQuery struct{ Text string }

func (StartCapture) event() {}
func (StopCapture) event()  {}
func (SubmitQuery) event()  {}

// Handle identifies one recording.
type Handle struct {
	ID      uuid.UUID
	Source  capture.Source
	Started time.Time
}

type Config struct {
	SampleRate      int
	PollInterval    time.Duration
	LoopbackMarkers []string
	// RecordingPath is overwritten with each recording before upload.
	RecordingPath  string
	CaptureTimeout time.Duration
	QueryTimeout   time.Duration
}

const (
	DefaultRecordingPath  = "recorded_audio.wav"
	DefaultCaptureTimeout = 60 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
)

type Controller struct {
	audio audio.Context
	tr    transcriber.Transcriber
	gen   generate.Generator
	disp  Dispatcher
	view  View
	cfg   Config

	mu      sync.Mutex
	state   State
	cur     *capture.Session
	handle  Handle
	queries int

	wg sync.WaitGroup
}

func New(actx audio.Context, tr transcriber.Transcriber, gen generate.Generator, disp Dispatcher, view View, cfg Config) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.RecordingPath == "" {
		cfg.RecordingPath = DefaultRecordingPath
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Controller{audio: actx, tr: tr, gen: gen, disp: disp, view: view, cfg: cfg}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active recording's handle and whether one exists.
func (c *Controller) Current() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.cur != nil
}

// Level is the input level of the active recording, or 0.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return 0
	}
	return c.cur.Level()
}

func (c *Controller) Handle(ev Event) error {
	switch ev := ev.(type) {
	case StartCapture:
		_, err := c.Start(ev.Source)
		return err
	case StopCapture:
		return c.Stop()
	case SubmitQuery:
		return c.Submit(ev.Text)
	}
	return fmt.Errorf("unknown event %T", ev)
}

// Toggle starts a recording from src when idle and stops the active one
// otherwise.
func (c *Controller) Toggle(src capture.Source) error {
	if c.State().Recording() {
		return c.Stop()
	}
	_, err := c.Start(src)
	return err
}

// Start begins recording from src on a new goroutine. The input device is
// chosen before leaving Idle, so a missing loopback device is reported and
// the session never enters a recording state.
func (c *Controller) Start(src capture.Source) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return Handle{}, ErrSessionAlreadyActive
	}

	dev, err := capture.Select(c.audio, src, c.cfg.LoopbackMarkers)
	if err != nil {
		c.report(err)
		return Handle{}, err
	}
	sess := capture.New(c.audio, src, dev, capture.Config{
		SampleRate:   c.cfg.SampleRate,
		PollInterval: c.cfg.PollInterval,
	})
	c.cur = sess
	c.handle = Handle{ID: uuid.New(), Source: src, Started: time.Now()}

	to := RecordingMic
	if src == capture.SpeakerLoopback {
		to = RecordingSpeaker
	}
	c.setStateLocked(to)
	c.info(fmt.Sprintf("Recording from %s...", src))

	c.wg.Add(1)
	go c.runCapture(sess)
	return c.handle, nil
}

func (c *Controller) runCapture(sess *capture.Session) {
	defer c.wg.Done()
	err := sess.Run()
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.cur != sess {
		// Stop already handed the session to the pipeline, which reports
		// the error from Wait.
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.report(err)
	c.setStateLocked(Idle)
	c.mu.Unlock()
}

// Stop ends the active recording and runs transcription and generation on
// a background goroutine.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Recording() || c.cur == nil {
		return ErrNoActiveSession
	}
	sess := c.cur
	c.cur = nil
	sess.Stop()
	c.info("Recording stopped.")
	c.setStateLocked(Processing)

	c.wg.Add(1)
	go c.process(sess)
	return nil
}

// Submit sends a typed query straight to generation.
func (c *Controller) Submit(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return ErrSessionAlreadyActive
	}
	c.setStateLocked(Processing)
	c.post(func() { c.view.User(text) })

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finish()
		c.generate(text, c.cfg.QueryTimeout)
	}()
	return nil
}

func (c *Controller) process(sess *capture.Session) {
	defer c.wg.Done()
	defer c.finish()

	buf, err := sess.Wait()
	if err != nil {
		c.report(err)
		return
	}
	if buf == nil || buf.Frames() == 0 {
		c.report(ErrEmptyRecording)
		return
	}
	c.info(fmt.Sprintf("Recorded %.1fs from %s. Transcribing...", buf.Duration().Seconds(), sess.DeviceName()))

	if err := audio.WriteWAV(c.cfg.RecordingPath, buf.Mono(), buf.SampleRate()); err != nil {
		c.report(fmt.Errorf("saving recording: %w", err))
		return
	}

	res, err := c.tr.Transcribe(context.Background(), c.cfg.RecordingPath)
	if err != nil {
		c.report(&TranscriptionError{Err: err})
		return
	}
	log.Transcription(log.TranscriptionMetrics{
		Provider:     c.tr.Name(),
		Format:       res.Upload.Format,
		AudioLengthS: res.Upload.AudioLengthS,
		RawSizeKB:    res.Upload.RawSizeKB,
		UploadKB:     res.Upload.EncodedKB,
		EncodeTime:   time.Duration(res.Upload.EncodeTimeMs * float64(time.Millisecond)),
		Net:          res.Metrics.Timings(),
	})

	text := res.Text
	c.post(func() { c.view.User(text) })
	c.generate(text, c.cfg.CaptureTimeout)
}

func (c *Controller) generate(prompt string, timeout time.Duration) {
	model := c.gen.Model()
	c.info(fmt.Sprintf("Sending to %s...", model))

	stream, err := c.gen.Open(context.Background(), prompt, timeout)
	if err != nil {
		c.report(err)
		log.Generation(log.GenerationMetrics{Provider: c.gen.Name(), Model: model, Outcome: "failed"})
		return
	}
	defer stream.Close()

	label := Label(model)
	c.post(func() { c.view.BeginAnswer(label) })
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		c.post(func() { c.view.Chunk(chunk) })
	}
	c.post(c.view.EndAnswer)

	outcome := "ok"
	if err := stream.Err(); err != nil {
		outcome = "failed"
		c.report(err)
	}
	text := stream.Text()
	log.Generation(log.GenerationMetrics{
		StreamID: stream.ID.String(),
		Provider: c.gen.Name(),
		Model:    model,
		Chunks:   stream.Chunks(),
		Bytes:    len(text),
		Net:      stream.Metrics().Timings(),
		Outcome:  outcome,
	})

	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
}

// Queries counts generation requests that produced a stream.
func (c *Controller) Queries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.setStateLocked(Idle)
	c.mu.Unlock()
}

// Wait blocks until background capture and processing goroutines return.
// An active recording keeps it blocked until Stop or Shutdown.
func (c *Controller) Wait() { c.wg.Wait() }

// Shutdown abandons an active recording without processing it and waits
// for in-flight work.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.cur != nil {
		c.cur.Stop()
		c.cur = nil
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	c.state = to
	log.StateChange(from.String(), to.String())
	c.post(func() { c.view.SetState(to) })
}

func (c *Controller) post(task func()) { c.disp.Post(task) }

func (c *Controller) info(text string) {
	c.post(func() { c.view.Info(text) })
}

func (c *Controller) report(err error) {
	log.Errorf("%v", err)
	msg := errorText(err)
	c.post(func() { c.view.Error(msg) })
}

func errorText(err error) string {
	switch {
	case errors.Is(err, audio.ErrDeviceNotFound):
		return "No loopback device found. Enable a monitor/loopback input and try again."
	case errors.Is(err, ErrEmptyRecording):
		return "Empty recording: no audio was captured."
	}
	return err.Error()
}

// Label is the prefix of an answer from model, e.g. "[LLAMA3.2]:".
func Label(model string) string {
	return "[" + strings.ToUpper(model) + "]:"
}
