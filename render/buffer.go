// Package render keeps the conversation as an ordered list of blocks and
// redraws a viewport from it while an answer streams in.
//
// Nothing in this package is safe for concurrent use. It belongs to the
// goroutine that drains the dispatch queue.
package render

import "github.com/google/uuid"

type Kind int

const (
	Finalized Kind = iota
	InProgress
)

func (k Kind) String() string {
	if k == InProgress {
		return "in-progress"
	}
	return "finalized"
}

type Role int

const (
	RoleInfo Role = iota
	RoleError
	RoleUser
	RoleAssistant
)

type Block struct {
	ID    uuid.UUID
	Kind  Kind
	Role  Role
	Label string
	Text  string
	// Trailer is drawn after the block and is not part of Text.
	Trailer string
}

// Buffer holds finalized blocks followed by at most one in-progress block.
type Buffer struct {
	blocks []Block
}

func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) hasInProgress() bool {
	return len(b.blocks) > 0 && b.blocks[len(b.blocks)-1].Kind == InProgress
}

// Append adds a finalized block. If an answer is still streaming, the block
// goes in front of it so the in-progress block stays last.
func (b *Buffer) Append(blk Block) {
	blk.Kind = Finalized
	if blk.ID == uuid.Nil {
		blk.ID = uuid.New()
	}
	if b.hasInProgress() {
		last := len(b.blocks) - 1
		b.blocks = append(b.blocks, b.blocks[last])
		b.blocks[last] = blk
		return
	}
	b.blocks = append(b.blocks, blk)
}

// ReplaceInProgress drops the trailing in-progress block, if any, and
// appends blk in its place.
func (b *Buffer) ReplaceInProgress(blk Block) {
	blk.Kind = InProgress
	if b.hasInProgress() {
		last := len(b.blocks) - 1
		if blk.ID == uuid.Nil {
			blk.ID = b.blocks[last].ID
		}
		b.blocks = b.blocks[:last]
	}
	if blk.ID == uuid.Nil {
		blk.ID = uuid.New()
	}
	b.blocks = append(b.blocks, blk)
}

// Finalize marks the in-progress block finalized with the given trailer.
// It reports false when there is nothing to finalize.
func (b *Buffer) Finalize(trailer string) bool {
	if !b.hasInProgress() {
		return false
	}
	last := &b.blocks[len(b.blocks)-1]
	last.Kind = Finalized
	last.Trailer = trailer
	return true
}

func (b *Buffer) InProgress() (Block, bool) {
	if !b.hasInProgress() {
		return Block{}, false
	}
	return b.blocks[len(b.blocks)-1], true
}

func (b *Buffer) Len() int { return len(b.blocks) }

func (b *Buffer) Blocks() []Block {
	out := make([]Block, len(b.blocks))
	copy(out, b.blocks)
	return out
}

// LastAnswer is the text of the most recent finalized assistant block.
func (b *Buffer) LastAnswer() (string, bool) {
	for i := len(b.blocks) - 1; i >= 0; i-- {
		if blk := b.blocks[i]; blk.Role == RoleAssistant && blk.Kind == Finalized {
			return blk.Text, true
		}
	}
	return "", false
}
