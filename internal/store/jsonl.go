package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
)

// JSONLStore appends each run record as one JSON line to a file. The file is
// opened per insert so external rotation is picked up.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore returns a store appending to path. The parent directory is
// created if needed.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, errors.New("jsonl path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return &JSONLStore{path: path}, nil
}

// Insert implements Store.
func (s *JSONLStore) Insert(_ context.Context, rec *record.RunRecord) error {
	if err := validateRecord(rec, true); err != nil {
		return err
	}

	data, err := document(rec)
	if err != nil {
		return err
	}
	if bytes.ContainsAny(data, "\n") {
		return errors.New("encoded run record contains a newline")
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "append to %s", s.path)
	}
	return errors.Wrapf(f.Close(), "close %s", s.path)
}

// Close is a no-op; no file handle is held between inserts.
func (s *JSONLStore) Close() error {
	return nil
}
