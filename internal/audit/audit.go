// Package audit records one append-only JSONL file per UTC day under
// <vault>/.kira/audit/, capturing every agent decision and CLI command as
// a complete {timestamp, trace_id, command, args, result} line.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/redaction"
)

// Entry is one recorded command/decision.
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id"`
	Command   string      `json:"command"`
	Args      interface{} `json:"args,omitempty"`
	Result    interface{} `json:"result,omitempty"`
}

// Logger appends Entry records to a per-UTC-day file. A line is written in
// one os.File.Write call, which is atomic up to the filesystem's pipe
// buffer size (PIPE_BUF, at least 4096 bytes on every platform this runs
// on) — comfortably larger than any single audit line — so no partial line
// is ever observed by a concurrent reader.
type Logger struct {
	mu  sync.Mutex
	dir string
}

// New constructs a Logger writing under dir (typically
// <vault>/.kira/audit).
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerrors.Internal("create audit directory", err)
	}
	return &Logger{dir: dir}, nil
}

func (l *Logger) pathFor(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", day.UTC().Format("2006-01-02")))
}

// Record appends one entry to today's (UTC) audit file.
func (l *Logger) Record(traceID, command string, args, result interface{}) error {
	return l.recordAt(time.Now(), traceID, command, args, result)
}

func (l *Logger) recordAt(at time.Time, traceID, command string, args, result interface{}) error {
	redactedArgs, err := redaction.RedactJSON(args)
	if err != nil {
		return kerrors.Internal("redact audit args", err)
	}
	redactedResult, err := redaction.RedactJSON(result)
	if err != nil {
		return kerrors.Internal("redact audit result", err)
	}

	entry := Entry{
		Timestamp: at.UTC(),
		TraceID:   traceID,
		Command:   command,
		Args:      redactedArgs,
		Result:    redactedResult,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return kerrors.Internal("encode audit entry", err)
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.pathFor(at), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.Internal("open audit file", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return kerrors.Internal("write audit entry", err)
	}
	return nil
}

// ReadDay returns every entry recorded for the given UTC day.
func (l *Logger) ReadDay(day time.Time) ([]Entry, error) {
	raw, err := os.ReadFile(l.pathFor(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.Internal("read audit file", err)
	}
	return decodeEntries(raw)
}

func decodeEntries(raw []byte) ([]Entry, error) {
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
