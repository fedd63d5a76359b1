// Package history persists per-commit retry state for CI build retries.
//
// One record is stored per commit hash. A record tracks how many rebuilds
// were already triggered for the commit and when the record was last
// written. Records are small JSON files in a process-local data directory.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/logfields"
)

const loggerName = "history"

// DefStalenessThreshold is the default record age after which Sweep removes
// a record.
const DefStalenessThreshold = 5 * 24 * time.Hour

// ErrCorrupt is returned by Load when a stored record can not be decoded.
// Callers treat a corrupt record as absent and delete it.
var ErrCorrupt = errors.New("history record is corrupt")

// Record is the retry history for a single commit hash.
type Record struct {
	// RetryCount is the number of rebuilds that were already triggered.
	RetryCount int `json:"retry_count"`
	// LastUpdate is the time the record was last saved.
	LastUpdate time.Time `json:"last_update"`
}

// Store is a durable mapping from a commit hash to its retry history.
//
// Implementations must be safe for concurrent use, the merge sweep accesses
// the store from one goroutine per pull request.
type Store interface {
	// Load returns the record for key or (nil, nil) if none exists.
	// If the stored record can not be decoded an error wrapping
	// ErrCorrupt is returned.
	Load(key string) (*Record, error)
	// Save overwrites the record for key, stamping the current time.
	Save(key string, retryCount int) error
	// Delete removes the record for key.
	// Deleting an absent key is not an error.
	Delete(key string) error
	// Sweep deletes all records older than olderThan and all records
	// that can not be decoded.
	Sweep(olderThan time.Duration)
}

// keys are commit hashes and used as filenames, everything else is refused
var keyRe = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// DirStore is a Store keeping one JSON file per commit hash in a directory.
type DirStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

var _ Store = (*DirStore)(nil)

// NewDirStore returns a DirStore storing records in dir.
// The directory is created if it does not exist.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory failed: %w", err)
	}

	return &DirStore{
		dir:    dir,
		logger: zap.L().Named(loggerName),
		now:    time.Now,
	}, nil
}

func (s *DirStore) path(key string) (string, error) {
	if !keyRe.MatchString(key) {
		return "", fmt.Errorf("invalid history key: %q", key)
	}

	return filepath.Join(s.dir, key), nil
}

func (s *DirStore) Load(key string) (*Record, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	return s.loadFile(path)
}

func (s *DirStore) loadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading history record failed: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding %s failed: %v: %w", path, err, ErrCorrupt)
	}

	return &record, nil
}

func (s *DirStore) Save(key string, retryCount int) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&Record{
		RetryCount: retryCount,
		LastUpdate: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding history record failed: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing history record failed: %w", err)
	}

	return nil
}

// Delete removes the record for key.
// Deleting a key that has no record succeeds.
func (s *DirStore) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting history record failed: %w", err)
	}

	return nil
}

// Sweep deletes records whose age is >= olderThan and records that can not
// be decoded. Errors are logged, Sweep is best-effort.
func (s *DirStore) Sweep(olderThan time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn(
			"reading history directory failed",
			logfields.Event("history_sweep_failed"),
			zap.Error(err),
		)

		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		logger := s.logger.With(zap.String("history_record", path))

		record, err := s.loadFile(path)
		if err == nil && record != nil && s.now().Sub(record.LastUpdate) < olderThan {
			continue
		}

		if err != nil {
			logger.Info(
				"deleting unreadable history record",
				logfields.Event("history_record_corrupt"),
				zap.Error(err),
			)
		} else {
			logger.Debug(
				"deleting stale history record",
				logfields.Event("history_record_stale"),
			)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn(
				"deleting history record failed",
				logfields.Event("history_record_delete_failed"),
				zap.Error(err),
			)
		}
	}
}
