package supervisor

import (
	"bytes"
	"strings"
	"sync"
)

// scanLines is a bufio.SplitFunc that frames on '\n' or '\r', so
// carriage-return progress bars are delivered as separate lines. A run of
// maxLineBytes without a terminator is emitted as its own token.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last limit bytes of the lines written to it. It is
// also an io.Writer for streams that are not framed.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit, buf: make([]byte, 0, limit)}
}

// WriteLine appends line followed by a newline, discarding the oldest bytes
// beyond the limit.
func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	t.trim()
}

// Write appends raw output, treating carriage returns as line breaks.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := len(t.buf)
	t.buf = append(t.buf, p...)
	for i := start; i < len(t.buf); i++ {
		if t.buf[i] == '\r' {
			t.buf[i] = '\n'
		}
	}
	t.trim()
	return len(p), nil
}

func (t *tailBuffer) trim() {
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimRight(string(t.buf), "\n")
}

// mergeExcerpts joins the tails in order, keeping the last limit bytes.
func mergeExcerpts(limit int, tails ...*tailBuffer) string {
	merged := newTailBuffer(limit)
	for _, t := range tails {
		if s := t.String(); s != "" {
			merged.WriteLine(s)
		}
	}
	return merged.String()
}
