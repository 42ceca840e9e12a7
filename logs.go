package main

import (
	"sync"
)

const logBufferSize = 10 * 1024 // 10KB tail per child stream

// Stream names used in the log API
const (
	streamStdout = "stdout"
	streamStderr = "stderr"
)

// CircularBuffer keeps the last size bytes written to it
type CircularBuffer struct {
	mu   sync.RWMutex
	ring []byte
	head int // next write position
	full bool
}

// NewCircularBuffer creates a new circular buffer
func NewCircularBuffer(size int) *CircularBuffer {
	return &CircularBuffer{ring: make([]byte, size)}
}

// Write implements io.Writer
func (cb *CircularBuffer) Write(p []byte) (n int, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	n = len(p)
	size := len(cb.ring)
	if n >= size {
		copy(cb.ring, p[n-size:])
		cb.head, cb.full = 0, true
		return n, nil
	}

	copied := copy(cb.ring[cb.head:], p)
	if copied < n {
		copy(cb.ring, p[copied:])
	}
	if cb.head+n >= size {
		cb.full = true
	}
	cb.head = (cb.head + n) % size
	return n, nil
}

// Read returns a copy of the buffered bytes, oldest first
func (cb *CircularBuffer) Read() []byte {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if !cb.full {
		return append([]byte(nil), cb.ring[:cb.head]...)
	}
	result := make([]byte, 0, len(cb.ring))
	result = append(result, cb.ring[cb.head:]...)
	return append(result, cb.ring[:cb.head]...)
}

// Broadcaster fans lines out to subscribers. Slow subscribers miss lines
// rather than block the child's reader.
type Broadcaster struct {
	clients map[chan string]bool
	mu      sync.RWMutex
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[chan string]bool)}
}

// Subscribe adds a new client channel
func (b *Broadcaster) Subscribe() chan string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, 100)
	b.clients[ch] = true
	return ch
}

// Unsubscribe removes and closes a client channel. Safe to call twice.
func (b *Broadcaster) Unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.clients[ch] {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Broadcast sends a message to all subscribers
func (b *Broadcaster) Broadcast(msg string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// streamLog pairs the tail of one stream with its live subscribers. mu makes
// a follower's history snapshot and subscription a single step.
type streamLog struct {
	mu        sync.Mutex
	buf       *CircularBuffer
	broadcast *Broadcaster
}

func newStreamLog() *streamLog {
	return &streamLog{
		buf:       NewCircularBuffer(logBufferSize),
		broadcast: NewBroadcaster(),
	}
}

func (l *streamLog) append(line string) {
	msg := line + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write([]byte(msg))
	l.broadcast.Broadcast(msg)
}

func (l *streamLog) follow() ([]byte, chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Read(), l.broadcast.Subscribe()
}

type childLogs struct {
	stdout *streamLog
	stderr *streamLog
}

// LogHub keeps the output tail of every child and lets HTTP clients follow
// it live. It is the supervisor's line handler.
type LogHub struct {
	mu       sync.Mutex
	children map[int]*childLogs
}

// NewLogHub creates an empty hub
func NewLogHub() *LogHub {
	return &LogHub{children: make(map[int]*childLogs)}
}

func (h *LogHub) stream(child int, name string) *streamLog {
	h.mu.Lock()
	defer h.mu.Unlock()

	logs, ok := h.children[child]
	if !ok {
		logs = &childLogs{stdout: newStreamLog(), stderr: newStreamLog()}
		h.children[child] = logs
	}
	if name == streamStderr {
		return logs.stderr
	}
	return logs.stdout
}

// OnOutputLine records a stdout line
func (h *LogHub) OnOutputLine(child int, line string) {
	h.stream(child, streamStdout).append(line)
}

// OnErrorLine records a stderr line
func (h *LogHub) OnErrorLine(child int, line string) {
	h.stream(child, streamStderr).append(line)
}

// History returns the buffered tail of one child stream
func (h *LogHub) History(child int, stream string) []byte {
	return h.stream(child, stream).buf.Read()
}

// Follow returns the buffered tail of one child stream and a channel with
// every line written after it. The returned func unsubscribes.
func (h *LogHub) Follow(child int, stream string) ([]byte, <-chan string, func()) {
	l := h.stream(child, stream)
	history, ch := l.follow()
	return history, ch, func() { l.broadcast.Unsubscribe(ch) }
}
