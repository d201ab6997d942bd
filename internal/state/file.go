package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const lockRetryDelay = 50 * time.Millisecond

// FileStore keeps the state as a JSON array in a single file
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a store backed by path. The file is not touched until Load.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the state file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all entries
func (s *FileStore) Load(ctx context.Context) ([]Entry, error) {
	if err := s.acquire(ctx, false); err != nil {
		return nil, err
	}
	defer s.release()

	raw, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &entries[i]); err != nil {
			return nil, fmt.Errorf("state file %s: entry %d: %w", s.path, i, err)
		}
	}
	return entries, nil
}

// Record updates the entry of rec.SourceID and rewrites the file. Other
// entries and unknown keys are written back unchanged.
func (s *FileStore) Record(ctx context.Context, rec RunRecord) error {
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.release()

	raw, err := s.read()
	if err != nil {
		return err
	}

	found := false
	for i, r := range raw {
		var id struct {
			SourceID string `json:"list_id"`
		}
		if err := json.Unmarshal(r, &id); err != nil || id.SourceID != rec.SourceID {
			continue
		}
		if raw[i], err = applyRunRecord(r, rec); err != nil {
			return fmt.Errorf("state file %s: %w", s.path, err)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.SourceID)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"source": rec.SourceID,
		"path":   s.path,
	}).Debug("State file updated")
	return nil
}

// Close releases the lock file handle
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) read() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("loading state file %q failed: %w", s.path, err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("loading state file %q failed: %w", s.path, err)
	}
	return raw, nil
}

func (s *FileStore) acquire(ctx context.Context, exclusive bool) error {
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to lock state file %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock state file %s", s.path)
	}
	return nil
}

func (s *FileStore) release() {
	if err := s.lock.Unlock(); err != nil {
		logrus.WithError(err).WithField("path", s.path).Warn("Failed to unlock state file")
	}
}

// applyRunRecord sets the run fields on a single JSON object
func applyRunRecord(entry json.RawMessage, rec RunRecord) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(entry, &obj); err != nil {
		return nil, err
	}
	obj["latest_timestamp"] = FormatTimestamp(rec.StartedAt)
	obj["elapsed_seconds"] = rec.ElapsedSeconds
	obj["total_updates"] = rec.TotalUpdates
	return json.Marshal(obj)
}

// writeAtomic replaces path so that readers never see a partial file
func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
