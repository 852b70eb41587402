package terminal

// DefaultHistoryBytes is the history ceiling used when none is configured.
const DefaultHistoryBytes = 256 * 1024

// History is a fixed-capacity circular byte buffer that keeps the most recent
// output. Once full, every write evicts the oldest bytes.
//
// History is not safe for concurrent use; the owning Hub serializes access.
type History struct {
	buf   []byte
	start int
	size  int
	total int64
}

// NewHistory creates a history buffer holding at most capacity bytes.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryBytes
	}
	return &History{buf: make([]byte, capacity)}
}

// Write appends p, evicting from the front as needed.
func (h *History) Write(p []byte) (int, error) {
	n := len(p)
	h.total += int64(n)
	c := len(h.buf)

	if n >= c {
		copy(h.buf, p[n-c:])
		h.start = 0
		h.size = c
		return n, nil
	}

	// Write position wraps past the end of the backing array.
	end := (h.start + h.size) % c
	first := copy(h.buf[end:], p)
	copy(h.buf, p[first:])

	h.size += n
	if h.size > c {
		h.start = (h.start + h.size - c) % c
		h.size = c
	}
	return n, nil
}

// Snapshot returns a copy of the retained bytes, oldest first.
func (h *History) Snapshot() []byte {
	out := make([]byte, h.size)
	if h.size == 0 {
		return out
	}
	n := copy(out, h.buf[h.start:min(h.start+h.size, len(h.buf))])
	copy(out[n:], h.buf[:h.size-n])
	return out
}

// Len reports the number of retained bytes.
func (h *History) Len() int { return h.size }

// Cap reports the retention ceiling.
func (h *History) Cap() int { return len(h.buf) }

// Total reports every byte ever written, including evicted ones.
func (h *History) Total() int64 { return h.total }
