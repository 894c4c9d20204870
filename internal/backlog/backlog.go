// Package backlog implements the bounded per-window text buffer that is
// replayed into a freshly sized region after every layout change.
package backlog

import "unicode/utf8"

// Buffer retains the last Cap runes of everything appended to it. The
// capacity is sized by the caller so a full replay exactly fills the
// largest region the window could ever occupy.
type Buffer struct {
	data []byte
	cap  int // runes, not bytes
}

// New returns a buffer retaining at most capacity runes.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{cap: capacity}
}

// Append adds text, discarding the oldest runes beyond capacity.
func (b *Buffer) Append(text string) {
	b.data = append(b.data, text...)
	b.trim()
}

// SetCap changes the rune capacity and retrims the retained text.
func (b *Buffer) SetCap(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	b.cap = capacity
	b.trim()
}

// String returns the retained suffix of the logical stream.
func (b *Buffer) String() string { return string(b.data) }

// Len reports the retained length in runes.
func (b *Buffer) Len() int { return utf8.RuneCount(b.data) }

// Cap reports the configured rune capacity.
func (b *Buffer) Cap() int { return b.cap }

func (b *Buffer) trim() {
	n := utf8.RuneCount(b.data)
	if n <= b.cap {
		return
	}
	drop := n - b.cap
	i := 0
	for ; drop > 0; drop-- {
		_, size := utf8.DecodeRune(b.data[i:])
		i += size
	}
	b.data = append(b.data[:0], b.data[i:]...)
}
