package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gmsas95/pillminder/internal/config"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/metrics"
	"github.com/gmsas95/pillminder/internal/models"
)

// Blob names.
const (
	BlobPrescriptions = "prescriptions"
	BlobAdherenceLog  = "adherence_log"
	BlobSkipCounts    = "skip_counts"
	BlobProfile       = "profile"
)

// Store provides typed access to the JSON blobs of the engine. Every mutation
// reads the whole blob, applies a function and writes it back inside one
// backend transaction, serialized per blob.
type Store struct {
	backend Backend
	metrics *metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens the backend selected by cfg.Storage.Driver.
func New(cfg *config.Config, m *metrics.Metrics) (*Store, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Storage.Driver {
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if cfg.Storage.InMemory {
			path = ":memory:"
		} else if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "pillminder.db")
		}
		backend, err = OpenSQLite(path)
	default:
		path := cfg.Storage.BadgerPath
		if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "badger")
		}
		backend, err = OpenBadger(path, cfg.Storage.InMemory)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreIO, "failed to open store")
	}

	return NewWithBackend(backend, m), nil
}

func NewWithBackend(backend Backend, m *metrics.Metrics) *Store {
	return &Store{
		backend: backend,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lock(blob string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[blob]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[blob] = mu
	}
	return mu
}

func get[T any](ctx context.Context, s *Store, blob string) (T, error) {
	var out T
	start := time.Now()
	defer func() { s.metrics.ObserveStore("get", blob, time.Since(start)) }()

	raw, err := s.backend.Get(ctx, blob)
	if err != nil {
		return out, errors.Wrap(err, errors.CodeStoreIO, fmt.Sprintf("failed to read %s", blob))
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, errors.CodeStoreIO, fmt.Sprintf("corrupt %s blob", blob))
	}
	return out, nil
}

// update applies fn under the blob lock. Errors returned by fn are passed
// through untouched; backend failures are wrapped as store errors.
func update[T any](ctx context.Context, s *Store, blob string, fn func(T) (T, error)) error {
	mu := s.lock(blob)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	defer func() { s.metrics.ObserveStore("update", blob, time.Since(start)) }()

	var fnErr error
	err := s.backend.Update(ctx, blob, func(current []byte) ([]byte, error) {
		var value T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &value); err != nil {
				return nil, fmt.Errorf("corrupt %s blob: %w", blob, err)
			}
		}
		next, err := fn(value)
		if err != nil {
			fnErr = err
			return nil, err
		}
		return json.Marshal(next)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreIO, fmt.Sprintf("failed to write %s", blob))
	}
	return nil
}

// ==================== Prescriptions ====================

func (s *Store) Prescriptions(ctx context.Context) ([]models.Prescription, error) {
	return get[[]models.Prescription](ctx, s, BlobPrescriptions)
}

func (s *Store) UpdatePrescriptions(ctx context.Context, fn func([]models.Prescription) ([]models.Prescription, error)) error {
	return update(ctx, s, BlobPrescriptions, fn)
}

// ==================== Adherence log ====================

func (s *Store) AdherenceLog(ctx context.Context) ([]models.LogEntry, error) {
	return get[[]models.LogEntry](ctx, s, BlobAdherenceLog)
}

func (s *Store) UpdateAdherenceLog(ctx context.Context, fn func([]models.LogEntry) ([]models.LogEntry, error)) error {
	return update(ctx, s, BlobAdherenceLog, fn)
}

// ==================== Skip counts ====================

func (s *Store) SkipCounts(ctx context.Context) (map[string]int, error) {
	counts, err := get[map[string]int](ctx, s, BlobSkipCounts)
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, err
}

func (s *Store) UpdateSkipCounts(ctx context.Context, fn func(map[string]int) error) error {
	return update(ctx, s, BlobSkipCounts, func(counts map[string]int) (map[string]int, error) {
		if counts == nil {
			counts = map[string]int{}
		}
		if err := fn(counts); err != nil {
			return nil, err
		}
		return counts, nil
	})
}

// ==================== Profile ====================

// Profile returns the stored profile and whether one has been saved.
func (s *Store) Profile(ctx context.Context) (models.Profile, bool, error) {
	p, err := get[*models.Profile](ctx, s, BlobProfile)
	if err != nil || p == nil {
		return models.Profile{}, false, err
	}
	return *p, true, nil
}

func (s *Store) SaveProfile(ctx context.Context, p models.Profile) error {
	return update(ctx, s, BlobProfile, func(*models.Profile) (*models.Profile, error) {
		return &p, nil
	})
}
