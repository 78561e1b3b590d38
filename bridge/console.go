package bridge

import (
	"io"
	"sync"
)

// consoleBufferSize is the number of log lines buffered per object so a
// debug console attaching late still sees recent output.
const consoleBufferSize = 64

type consoleBuffer struct {
	lines [][]byte
	start int
	count int
}

func (b *consoleBuffer) push(line []byte) {
	if b.lines == nil {
		b.lines = make([][]byte, consoleBufferSize)
	}
	lineCopy := make([]byte, len(line))
	copy(lineCopy, line)
	idx := (b.start + b.count) % consoleBufferSize
	if b.count < consoleBufferSize {
		b.lines[idx] = lineCopy
		b.count++
	} else {
		b.lines[b.start] = lineCopy
		b.start = (b.start + 1) % consoleBufferSize
	}
}

func (b *consoleBuffer) all() [][]byte {
	if b.count == 0 {
		return nil
	}
	result := make([][]byte, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.lines[(b.start+i)%consoleBufferSize]
	}
	return result
}

type console struct {
	mu      sync.RWMutex
	writers map[string]map[io.Writer]struct{}
	buffers map[string]*consoleBuffer
}

// AttachConsole subscribes w to an object's script log output.
func (s *Switchboard) AttachConsole(objectID string, w io.Writer) {
	if w == nil {
		return
	}
	s.console.mu.Lock()
	defer s.console.mu.Unlock()
	if s.console.writers == nil {
		s.console.writers = map[string]map[io.Writer]struct{}{}
	}
	if s.console.writers[objectID] == nil {
		s.console.writers[objectID] = map[io.Writer]struct{}{}
	}
	s.console.writers[objectID][w] = struct{}{}
}

// DetachConsole unsubscribes w from an object's script log output.
func (s *Switchboard) DetachConsole(objectID string, w io.Writer) {
	s.console.mu.Lock()
	defer s.console.mu.Unlock()
	if writers := s.console.writers[objectID]; writers != nil {
		delete(writers, w)
		if len(writers) == 0 {
			delete(s.console.writers, objectID)
		}
	}
}

// ConsoleBuffer returns the buffered log lines for an object, oldest
// first.
func (s *Switchboard) ConsoleBuffer(objectID string) [][]byte {
	s.console.mu.RLock()
	defer s.console.mu.RUnlock()
	if buf := s.console.buffers[objectID]; buf != nil {
		return buf.all()
	}
	return nil
}

// ConsoleWriter returns the writer handed to an object's sandbox as its
// log sink. Output is buffered and fanned out to attached consoles; a
// writer that fails is detached.
func (s *Switchboard) ConsoleWriter(objectID string) io.Writer {
	return &consoleWriter{s: s, objectID: objectID}
}

type consoleWriter struct {
	s        *Switchboard
	objectID string
}

func (w *consoleWriter) Write(b []byte) (int, error) {
	w.s.console.mu.Lock()
	if w.s.console.buffers == nil {
		w.s.console.buffers = map[string]*consoleBuffer{}
	}
	if w.s.console.buffers[w.objectID] == nil {
		w.s.console.buffers[w.objectID] = &consoleBuffer{}
	}
	w.s.console.buffers[w.objectID].push(b)
	w.s.console.mu.Unlock()

	w.s.console.mu.RLock()
	targets := make([]io.Writer, 0, len(w.s.console.writers[w.objectID]))
	for target := range w.s.console.writers[w.objectID] {
		targets = append(targets, target)
	}
	w.s.console.mu.RUnlock()

	var failed []io.Writer
	for _, target := range targets {
		if _, err := target.Write(b); err != nil {
			failed = append(failed, target)
		}
	}
	for _, target := range failed {
		w.s.DetachConsole(w.objectID, target)
	}
	return len(b), nil
}
