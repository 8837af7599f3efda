package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/logger"
)

// Sink appends one JSON line per event to a rotated file.
type Sink struct {
	mu sync.Mutex
	w  *lj.Logger
}

// New opens path for appending. DSN forms: "file:///var/lib/x.log" or a plain path.
func New(dsn string, rot logger.Rotation) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	path = strings.TrimPrefix(path, "file://")
	if path == "" {
		return nil, errors.New("empty transition log path")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return &Sink{w: rot.Writer(path)}, nil
}

func (s *Sink) Send(_ context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
