// Package history implements the append-only chat log.  Every accepted chat
// message is formatted into one line and appended to a file; the tail of the
// log is served back to freshly logged-in clients as a best-effort replay.
package history

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Log keeps the full message history in memory and mirrors every append to
// a backing file.  A single mutex serialises all access; it is independent
// of the server's registry lock and the two are never held together.
type Log struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	lines []string
}

// Open creates (or reopens) the log at path and loads any existing lines.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	l.f = f
	return l, nil
}

func (l *Log) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("history: open %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		l.lines = append(l.lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("history: read %s: %w", l.path, err)
	}
	return nil
}

// Append records one accepted chat message.
func (l *Log) Append(timestamp, sender, content string) error {
	line := fmt.Sprintf("%s %s: %s", timestamp, sender, content)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, line)
	if _, err := fmt.Fprintln(l.f, line); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Tail returns a copy of the last n lines, oldest first.  n <= 0 returns
// the whole log.
func (l *Log) Tail(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := len(l.lines)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]string, n)
	copy(out, l.lines[total-n:])
	return out
}

// Close flushes nothing (appends are unbuffered) and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
