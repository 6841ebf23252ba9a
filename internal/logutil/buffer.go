package logutil

import (
	"strings"
	"sync"
)

// exportTailLines matches the admin export contract: the last 100 log lines.
const exportTailLines = 100

// Buffer is an io.Writer that keeps the most recent complete log lines in a
// bounded ring. Writes may arrive in partial chunks; a line is only stored
// once its newline shows up.
type Buffer struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial strings.Builder
}

func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = exportTailLines
	}
	return &Buffer{max: maxLines}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range p {
		if c == '\n' {
			b.appendLocked(b.partial.String())
			b.partial.Reset()
			continue
		}
		b.partial.WriteByte(c)
	}
	return len(p), nil
}

func (b *Buffer) appendLocked(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

// Tail returns a copy of up to n most recent complete lines, oldest first.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...)
}

// Dump is the newline-joined tail used by the log export.
func (b *Buffer) Dump() string {
	return strings.Join(b.Tail(exportTailLines), "\n")
}
