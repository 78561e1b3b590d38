package storage

import (
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	goccy "github.com/goccy/go-json"
)

const (
	// DefaultAuditCap is how many entries the in-memory ring keeps. The
	// JSONL file keeps full history under rotation.
	DefaultAuditCap = 4096

	auditMaxSizeMB = 10
	auditBackups   = 5
)

// AuditEntry records one security-relevant decision or action.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Target  string    `json:"target"`
	Success bool      `json:"success"`
	Details string    `json:"details,omitempty"`
}

// AuditLog is an append-only log with a size-capped in-memory ring
// (oldest entries evicted first) and an optional rotated JSONL file.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	start   int
	count   int
	sink    *lumberjack.Logger
	enc     *goccy.Encoder
}

// NewAuditLog creates an audit log holding up to cap entries in memory.
// With a non-empty path, entries are also appended as JSON lines to a
// rotated file.
func NewAuditLog(path string, cap int) *AuditLog {
	if cap <= 0 {
		cap = DefaultAuditCap
	}
	l := &AuditLog{
		entries: make([]AuditEntry, cap),
	}
	if path != "" {
		l.sink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    auditMaxSizeMB,
			MaxBackups: auditBackups,
			Compress:   true,
		}
		l.enc = goccy.NewEncoder(l.sink)
	}
	return l
}

func (l *AuditLog) Append(e AuditEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := (l.start + l.count) % len(l.entries)
	if l.count < len(l.entries) {
		l.entries[idx] = e
		l.count++
	} else {
		l.entries[l.start] = e
		l.start = (l.start + 1) % len(l.entries)
	}
	if l.enc != nil {
		// Encoding a plain struct can't fail; a full disk shows up at
		// rotation time and must not take the driver down.
		_ = l.enc.Encode(e)
	}
}

// Recent returns up to n entries, newest last.
func (l *AuditLog) Recent(n int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	result := make([]AuditEntry, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[(l.start+l.count-n+i)%len(l.entries)]
	}
	return result
}

func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
