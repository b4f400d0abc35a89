package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type FileOptions struct {
	// Sync calls fsync after every record.
	Sync bool
}

// FileLog appends NDJSON records to a file.
type FileLog struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	session string
	sync    bool
	now     func() time.Time
}

func OpenFile(path, session string, opts FileOptions) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileLog{
		f:       f,
		path:    path,
		session: session,
		sync:    opts.Sync,
		now:     time.Now,
	}, nil
}

func (l *FileLog) Path() string { return l.path }

func (l *FileLog) Append(e Entry) error {
	stamp(&e, l.session, l.now)

	buf, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode %s: %w", e.Action, err)
	}
	buf = append(buf, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return os.ErrClosed
	}
	if _, err := l.f.Write(buf); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("audit: sync: %w", err)
		}
	}
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
