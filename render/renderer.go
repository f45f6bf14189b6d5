package render

import (
	"strings"
)

const (
	DefaultDebounce  = 20
	DefaultSeparator = "\n"
)

// Viewport is the scrolling surface blocks are drawn into.
type Viewport interface {
	// VisibleFraction is how far down the content the bottom edge of the
	// view is, in [0, 1].
	VisibleFraction() float64
	SetContent(content string)
	ScrollToBottom()
}

// AtBottom reports whether v shows the end of its content.
func AtBottom(v Viewport) bool { return v.VisibleFraction() >= 0.999 }

// Formatter turns one block into display text, without the trailing
// newline.
type Formatter func(Block) string

func PlainFormat(b Block) string {
	if b.Label == "" {
		return b.Text
	}
	return b.Label + " " + b.Text
}

type Options struct {
	// Debounce is the growth of the streamed answer, in bytes, between
	// redraws. Chunks ending in a newline always redraw.
	Debounce  int
	Separator string
	Format    Formatter
}

type Renderer struct {
	buf       *Buffer
	view      Viewport
	format    Formatter
	threshold int
	separator string

	active bool
	label  string
	acc    strings.Builder
	draws  int
}

func NewRenderer(view Viewport, opts Options) *Renderer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Format == nil {
		opts.Format = PlainFormat
	}
	return &Renderer{
		buf:       NewBuffer(),
		view:      view,
		format:    opts.Format,
		threshold: opts.Debounce,
		separator: opts.Separator,
	}
}

func (r *Renderer) Buffer() *Buffer { return r.buf }

// Draws counts viewport updates.
func (r *Renderer) Draws() int { return r.draws }

func (r *Renderer) Info(text string)  { r.add(RoleInfo, "[INFO]", text) }
func (r *Renderer) Error(text string) { r.add(RoleError, "[ERROR]", text) }
func (r *Renderer) User(text string)  { r.add(RoleUser, "[USER]:", text) }

func (r *Renderer) add(role Role, label, text string) {
	r.buf.Append(Block{Role: role, Label: label, Text: text})
	r.draw()
}

// BeginAnswer opens a streamed answer shown under label.
func (r *Renderer) BeginAnswer(label string) {
	if r.active {
		r.EndAnswer()
	}
	r.active = true
	r.label = label
	r.acc.Reset()
	r.renderAnswer()
}

func (r *Renderer) Answering() bool { return r.active }

// Chunk adds streamed text. The viewport is redrawn when the answer
// crosses a multiple of the debounce size or the chunk ends a line.
func (r *Renderer) Chunk(s string) {
	if !r.active {
		r.BeginAnswer("")
	}
	before := r.acc.Len()
	r.acc.WriteString(s)
	after := r.acc.Len()
	if after/r.threshold > before/r.threshold || strings.HasSuffix(s, "\n") {
		r.renderAnswer()
	}
}

// EndAnswer draws the whole answer once more and finalizes it.
func (r *Renderer) EndAnswer() {
	if !r.active {
		return
	}
	r.renderAnswer()
	r.buf.Finalize(r.separator)
	r.active = false
	r.label = ""
	r.acc.Reset()
	r.draw()
}

// renderAnswer rebuilds the in-progress block from everything received so
// far, so a skipped redraw never loses text.
func (r *Renderer) renderAnswer() {
	r.buf.ReplaceInProgress(Block{Role: RoleAssistant, Label: r.label, Text: r.acc.String()})
	r.draw()
}

func (r *Renderer) draw() {
	follow := AtBottom(r.view)
	r.view.SetContent(r.Content())
	if follow {
		r.view.ScrollToBottom()
	}
	r.draws++
}

// Content is the full text of all blocks.
func (r *Renderer) Content() string {
	var sb strings.Builder
	for _, b := range r.buf.blocks {
		sb.WriteString(r.format(b))
		sb.WriteByte('\n')
		sb.WriteString(b.Trailer)
	}
	return sb.String()
}
