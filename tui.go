package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hark/beep"
	"hark/capture"
	"hark/clipboard"
	"hark/dispatch"
	"hark/log"
	"hark/render"
	"hark/session"
)

// taskMsg carries one dispatched view task into the bubbletea loop, which
// is the only goroutine that touches the chat view.
type taskMsg func()

type levelTickMsg time.Time

var (
	labelStyles = map[render.Role]lipgloss.Style{
		render.RoleInfo:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		render.RoleError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		render.RoleUser:      lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		render.RoleAssistant: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
	infoTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	meterStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// chatView is the session's view: a renderer drawing into a bubbles
// viewport, plus the session state shown on the status line.
type chatView struct {
	*render.Renderer
	vp    viewport.Model
	width int
	state session.State
}

func newChatView(opts render.Options) *chatView {
	cv := &chatView{vp: viewport.New(80, 20)}
	cv.vp.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		Up:       key.NewBinding(key.WithKeys("up")),
		Down:     key.NewBinding(key.WithKeys("down")),
	}
	opts.Format = cv.format
	cv.Renderer = render.NewRenderer(cv, opts)
	return cv
}

func (cv *chatView) format(b render.Block) string {
	text := b.Text
	if b.Role == render.RoleInfo {
		text = infoTextStyle.Render(text)
	}
	if b.Label != "" {
		text = labelStyles[b.Role].Render(b.Label) + " " + text
	}
	if cv.width > 0 {
		return lipgloss.NewStyle().Width(cv.width).Render(text)
	}
	return text
}

func (cv *chatView) VisibleFraction() float64 {
	total := cv.vp.TotalLineCount()
	if total == 0 {
		return 1
	}
	return math.Min(1, float64(cv.vp.YOffset+cv.vp.Height)/float64(total))
}

func (cv *chatView) SetContent(s string) { cv.vp.SetContent(s) }
func (cv *chatView) ScrollToBottom()     { cv.vp.GotoBottom() }

func (cv *chatView) Error(text string) {
	beep.PlayError()
	cv.Renderer.Error(text)
}

func (cv *chatView) SetState(s session.State) {
	switch {
	case s.Recording():
		beep.PlayStart()
	case cv.state.Recording() && s == session.Processing:
		beep.PlayEnd()
	}
	cv.state = s
}

func (cv *chatView) resize(width, height int) {
	follow := render.AtBottom(cv)
	cv.width = width
	cv.vp.Width = width
	cv.vp.Height = max(height, 1)
	cv.SetContent(cv.Content())
	if follow {
		cv.ScrollToBottom()
	}
}

type tuiModel struct {
	ctrl    *session.Controller
	chat    *chatView
	input   textinput.Model
	width   int
	height  int
	level   float64
	notice  string
	info    string
	silence *silenceMonitor
}

func newTUIModel(ctrl *session.Controller, chat *chatView, info string) tuiModel {
	in := textinput.New()
	in.Placeholder = "Ask something, or ctrl+r to talk"
	in.Prompt = "> "
	in.CharLimit = 4096
	in.Focus()
	return tuiModel{
		ctrl:    ctrl,
		chat:    chat,
		input:   in,
		info:    info,
		silence: newSilenceMonitor(int(silenceWarnAfter / levelInterval)),
	}
}

func levelTick() tea.Cmd {
	return tea.Tick(levelInterval, func(t time.Time) tea.Msg {
		return levelTickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, levelTick())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-3, 10)
		m.chat.resize(msg.Width, msg.Height-3)

	case taskMsg:
		msg()

	case levelTickMsg:
		if !m.chat.state.Recording() {
			m.level = 0
			m.silence.reset()
			return m, levelTick()
		}
		level := m.ctrl.Level()
		m.level = m.level*0.6 + level*0.4
		switch m.silence.tick(level) {
		case silenceWarn:
			m.notice = "⚠ no voice detected"
			beep.PlayError()
		case silenceClear:
			m.notice = ""
		}
		return m, levelTick()

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.chat.vp, cmd = m.chat.vp.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+r":
			m.notice = noticeFor(m.ctrl.Toggle(capture.Microphone))
		case "ctrl+o":
			m.notice = noticeFor(m.ctrl.Toggle(capture.SpeakerLoopback))
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.notice = noticeFor(m.ctrl.Submit(text))
			if m.notice == "" {
				m.input.Reset()
			}
		case "ctrl+y":
			m.notice = m.copyLastAnswer()
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.chat.vp, cmd = m.chat.vp.Update(msg)
			return m, cmd
		default:
			m.notice = ""
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) copyLastAnswer() string {
	text, ok := m.chat.Buffer().LastAnswer()
	if !ok {
		return "nothing to copy yet"
	}
	if err := clipboard.Copy(text); err != nil {
		log.Warnf("clipboard: %v", err)
		return err.Error()
	}
	return "answer copied"
}

func noticeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrSessionAlreadyActive):
		return "busy: wait for the current answer"
	case errors.Is(err, session.ErrNoActiveSession):
		return "not recording"
	}
	return err.Error()
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.chat.vp.View(),
		m.statusLine(),
		m.input.View(),
	)
}

func (m tuiModel) statusLine() string {
	var state string
	switch s := m.chat.state; {
	case s.Recording():
		state = recStyle.Render("● REC "+sourceName(s)) + " " + meterStyle.Render(meter(m.level, 10))
	case s == session.Processing:
		state = busyStyle.Render("◌ working")
	default:
		state = statusStyle.Render("○ idle")
	}
	parts := []string{state, statusStyle.Render(m.info)}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	parts = append(parts, helpStyle.Render("ctrl+r mic · ctrl+o speaker · ctrl+y copy · ctrl+c quit"))
	return strings.Join(parts, "  ")
}

func sourceName(s session.State) string {
	if s == session.RecordingSpeaker {
		return capture.SpeakerLoopback.String()
	}
	return capture.Microphone.String()
}

// meter draws level (0..1) on a log scale as a bar of width cells.
func meter(level float64, width int) string {
	if level <= 0 {
		return strings.Repeat("░", width)
	}
	db := 20 * math.Log10(level)
	n := int(math.Round((db + 60) / 60 * float64(width)))
	n = min(max(n, 0), width)
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

// pump forwards dispatched tasks into the program until ctx is done or
// the queue is closed.
func pump(ctx context.Context, q *dispatch.Queue, p *tea.Program) {
	for {
		task, err := q.Next(ctx)
		if err != nil {
			return
		}
		p.Send(taskMsg(task))
	}
}

func infoLine(transcriber, generator, model string) string {
	return fmt.Sprintf("[%s → %s %s]", transcriber, generator, model)
}
