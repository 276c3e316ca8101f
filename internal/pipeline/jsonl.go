package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// jsonlLogger appends one JSON object per line to a fixed file, used by the
// inbox pipeline's pipeline_started/pipeline_completed audit trail (spec
// §4.7). It is intentionally dumber than infrastructure/state's atomic-write
// backend: pipeline run logs are an append-only stream, not a record store
// that gets overwritten.
type jsonlLogger struct {
	mu   sync.Mutex
	path string
}

func newJSONLLogger(path string) (*jsonlLogger, error) {
	if path == "" {
		return &jsonlLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &jsonlLogger{path: path}, nil
}

func (l *jsonlLogger) write(eventType, traceID string, fields map[string]interface{}) error {
	if l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := map[string]interface{}{
		"event_type": eventType,
		"trace_id":   traceID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		entry[k] = v
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(raw)
	return err
}
