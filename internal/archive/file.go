package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "crosspub/pkg/logx"
)

// fileStore is a dependency-free archive backend: one append-only JSON Lines
// file, one record per line. Prune rewrites the file atomically
// (tmp + rename).
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("archive.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path += ".jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("archive file closed")
	}
	if r.ArchivedAt.IsZero() {
		r.ArchivedAt = time.Now()
	}
	return json.NewEncoder(s.f).Encode(r)
}

// List scans the whole file. The archive is an audit trail, not a hot path;
// a full scan per query is acceptable.
func (s *fileStore) List(ctx context.Context, f Filter) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	records, err := s.scan(path, f)
	if err != nil {
		return nil, err
	}
	// Newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

func (s *fileStore) scan(path string, f Filter) ([]Record, error) {
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer in.Close()

	var out []Record
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Skip torn or corrupt lines instead of failing the whole query.
			s.log.Debug("archive: skipping corrupt line", logx.Any("err", err))
			continue
		}
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out, sc.Err()
}

// Prune drops records archived before olderThan and returns how many were
// removed.
func (s *fileStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("archive file closed")
	}

	kept, removed, err := s.partitionLocked(olderThan)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(out)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	// Swap the live file: close the append handle, rename, reopen.
	if err := s.f.Close(); err != nil {
		return 0, err
	}
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.f = f
	return removed, nil
}

func (s *fileStore) partitionLocked(olderThan time.Time) ([]Record, int, error) {
	in, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer in.Close()

	var (
		kept    []Record
		removed int
	)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			removed++
			continue
		}
		if r.ArchivedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	return kept, removed, sc.Err()
}
