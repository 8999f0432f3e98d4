package client

import (
	"sync"
	"time"
)

// ChatLine is one rendered chat entry held for the UI.
type ChatLine struct {
	Channel string
	Sender  string
	Text    string
	When    time.Time
}

// History is a small bounded ring buffer of chat lines. Chat is never
// persisted beyond it.
type History struct {
	mu    sync.Mutex
	lines []ChatLine
	start int
	count int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 128
	}
	return &History{lines: make([]ChatLine, capacity)}
}

func (h *History) Append(line ChatLine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < len(h.lines) {
		h.lines[(h.start+h.count)%len(h.lines)] = line
		h.count++
		return
	}
	h.lines[h.start] = line
	h.start = (h.start + 1) % len(h.lines)
}

// Lines returns the buffered entries, oldest first.
func (h *History) Lines() []ChatLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ChatLine, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.lines[(h.start+i)%len(h.lines)]
	}
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start, h.count = 0, 0
}
