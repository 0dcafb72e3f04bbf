// Package accesslog writes one entry per Client.Send call, in text or
// JSON, optionally rotated daily to disk.
package accesslog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Entry represents a single HTTP send log entry.
type Entry struct {
	Timestamp  string  `json:"timestamp"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	PoolWaitMS float64 `json:"pool_wait_ms,omitempty"`
	Retried    bool    `json:"retried,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Writer writes access log entries in text or JSON format.
type Writer interface {
	Write(entry Entry)
}

type textWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

type jsonWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriter creates a Writer that formats entries as text or JSON.
// format must be "text" or "json"; anything else falls back to text.
func NewWriter(w io.Writer, format string) Writer {
	if format == "json" {
		return &jsonWriter{writer: w}
	}
	return &textWriter{writer: w}
}

func (t *textWriter) Write(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var line string
	if entry.Error != "" {
		line = fmt.Sprintf("%s method=%s path=%s status=%d duration_ms=%.3f pool_wait_ms=%.3f retried=%t error=%q\n",
			entry.Timestamp, entry.Method, entry.Path, entry.Status, entry.DurationMS, entry.PoolWaitMS, entry.Retried, entry.Error)
	} else {
		line = fmt.Sprintf("%s method=%s path=%s status=%d duration_ms=%.3f pool_wait_ms=%.3f retried=%t\n",
			entry.Timestamp, entry.Method, entry.Path, entry.Status, entry.DurationMS, entry.PoolWaitMS, entry.Retried)
	}
	_, _ = t.writer.Write([]byte(line))
}

func (j *jsonWriter) Write(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = j.writer.Write(data)
}

// FormatTimestamp returns a timestamp string for log entries.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}
