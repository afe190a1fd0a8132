package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

// maxLine bounds Recent's line scanner. Entries carry capped stderr, so a
// megabyte of headroom is plenty.
const maxLine = 1024 * 1024

// fileJournal is the dependency-free backend: one JSON Lines file, append
// only. Recent replays the tail; there is no compaction because the journal
// is informational and safe to rotate or delete externally.
type fileJournal struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	file *os.File
}

func openFile(cfg *config.JournalConfig, log logx.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileJournal{log: log, path: path, file: f}, nil
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (j *fileJournal) Record(ctx context.Context, e Entry) error {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return errors.New("journal file closed")
	}
	return json.NewEncoder(j.file).Encode(e)
}

// Recent returns up to n entries, oldest first. Unparsable lines (e.g. a
// truncated write before a crash) are skipped.
func (j *fileJournal) Recent(ctx context.Context, n int) ([]Entry, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	ring := make([]Entry, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}
