// Package logring keeps a bounded in-memory ring of recent log lines so the
// operations UI can show them without touching disk.
package logring

import (
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// Buffer is a thread-safe ring buffer of log entries. It implements
// io.Writer so it can sit behind zerolog's multi-writer.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

// New creates a Buffer holding up to size entries.
func New(size int) *Buffer {
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write captures one log line, parsing level and message out of the zerolog
// JSON when possible.
func (b *Buffer) Write(p []byte) (int, error) {
	raw := string(p)
	entry := Entry{
		Timestamp: time.Now(),
		Level:     parseLevel(raw),
		Message:   parseMessage(raw),
		Raw:       raw,
	}

	b.mu.Lock()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()

	return len(p), nil
}

// Entries returns all captured entries in chronological order.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	if b.count == 0 {
		return out
	}
	start := 0
	if b.count == b.size {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(start+i)%b.size]
	}
	return out
}

// Recent returns the most recent n entries.
func (b *Buffer) Recent(n int) []Entry {
	entries := b.Entries()
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

var logLevels = []string{"debug", "info", "warn", "error", "fatal"}

func parseLevel(raw string) string {
	for _, level := range logLevels {
		if strings.Contains(raw, `"level":"`+level+`"`) {
			return level
		}
	}
	return "info"
}

func parseMessage(raw string) string {
	const key = `"message":"`
	start := strings.Index(raw, key)
	if start == -1 {
		return strings.TrimSpace(raw)
	}
	start += len(key)
	end := start
	for end < len(raw) && raw[end] != '"' {
		if raw[end] == '\\' && end+1 < len(raw) {
			end += 2
			continue
		}
		end++
	}
	if end > start {
		return raw[start:end]
	}
	return strings.TrimSpace(raw)
}
