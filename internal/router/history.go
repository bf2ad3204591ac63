package router

import "time"

// historyCapacity bounds the in-memory request history; the oldest record
// is evicted once full.
const historyCapacity = 1000

// HistoryRecord is one completed request as remembered by the router.
type HistoryRecord struct {
	Timestamp    time.Time
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Latency      time.Duration
	Reason       string
	Cached       bool
}

// history is a fixed-capacity circular buffer. Not safe for concurrent use;
// the router guards it with its own mutex.
type history struct {
	buf  []HistoryRecord
	head int // next write position
	size int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]HistoryRecord, capacity)}
}

func (h *history) add(rec HistoryRecord) {
	h.buf[h.head] = rec
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// records returns the retained entries oldest first.
func (h *history) records() []HistoryRecord {
	out := make([]HistoryRecord, 0, h.size)
	start := h.head - h.size
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
