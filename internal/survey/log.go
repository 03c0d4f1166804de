package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zajuna/tutor-virtual/internal/domain"
)

// Log appends survey records to a JSON-lines file, one object per line.
type Log struct {
	path string
	mu   sync.Mutex
}

var _ Recorder = (*Log)(nil)

// NewLog creates a log at path, creating parent directories.
func NewLog(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("survey log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create survey log directory: %w", err)
	}
	return &Log{path: path}, nil
}

// Append writes rec as one line. Concurrent callers are serialized.
func (l *Log) Append(ctx context.Context, rec domain.SurveyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode survey record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open survey log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write survey log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close survey log: %w", err)
	}
	return nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }
