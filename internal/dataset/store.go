// Package dataset resolves logical collection names to record lists using the
// two-tier user/default scheme and persists mutations back to a kv.Store.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
	"go.uber.org/zap"
)

var (
	// ErrCollectionNotFound reports a name backed by neither variant.
	ErrCollectionNotFound = errors.New("dataset: collection not found")

	errMissingBackend = errors.New("dataset: kv backend is required")
)

const (
	opRead  = "dataset.read"
	opWrite = "dataset.write"
)

// Store is the two-tier collection store.
type Store struct {
	backend kv.Store
	logger  *zap.Logger
}

// NewStore wraps backend.
func NewStore(backend kv.Store, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Read returns the records for name. A variant-qualified name is read directly;
// otherwise the user variant wins over the default variant.
func (s *Store) Read(ctx context.Context, name string) ([]Record, error) {
	if key, ok := ParseKey(name); ok {
		return s.ReadKey(ctx, key)
	}
	key, found, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(name)
	}
	return s.ReadKey(ctx, key)
}

// ReadKey returns the records stored in one specific variant.
func (s *Store) ReadKey(ctx context.Context, key Key) ([]Record, error) {
	records, found, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(key.Name)
	}
	return records, nil
}

// Resolve returns the key that currently backs name.
func (s *Store) Resolve(ctx context.Context, name string) (Key, bool, error) {
	for _, key := range []Key{UserKey(name), DefaultKey(name)} {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return Key{}, false, err
		}
		if exists {
			return key, true, nil
		}
	}
	return Key{}, false, nil
}

// Exists reports whether the given variant is present.
func (s *Store) Exists(ctx context.Context, key Key) (bool, error) {
	_, found, err := s.backend.Get(ctx, key.String())
	if err != nil {
		return false, apierror.Wrap(apierror.KindInternal, opRead, "storage read failed", err)
	}
	return found, nil
}

// Write persists records into the user or default variant of name. A
// variant-qualified name is written as given.
func (s *Store) Write(ctx context.Context, name string, records []Record, asUser bool) error {
	key, ok := ParseKey(name)
	if !ok {
		key = DefaultKey(name)
		if asUser {
			key = UserKey(name)
		}
	}
	return s.WriteKey(ctx, key, records)
}

// WriteKey persists records into exactly key.
func (s *Store) WriteKey(ctx context.Context, key Key, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return apierror.Wrap(apierror.KindBadRequest, opWrite, "records are not JSON encodable", err)
	}
	if err := s.backend.Set(ctx, key.String(), payload); err != nil {
		s.logger.Error("dataset write failed", zap.String("key", key.String()), zap.Error(err))
		return apierror.Wrap(apierror.KindInternal, opWrite, "storage write failed", err)
	}
	return nil
}

// Keys lists every variant-qualified collection key in the backend.
func (s *Store) Keys(ctx context.Context) ([]Key, error) {
	raw, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, opRead, "storage enumerate failed", err)
	}
	keys := make([]Key, 0, len(raw))
	for _, candidate := range raw {
		if key, ok := ParseKey(candidate); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// EnumerateNames returns the sorted logical names backed by either variant.
func (s *Store) EnumerateNames(ctx context.Context) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key.Name]; ok {
			continue
		}
		seen[key.Name] = struct{}{}
		names = append(names, key.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ResetUserData drops every user variant so the defaults become visible again.
// It returns the names that were reset.
func (s *Store) ResetUserData(ctx context.Context) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	reset := make([]string, 0)
	for _, key := range keys {
		if key.Variant != VariantUser {
			continue
		}
		if err := s.backend.Delete(ctx, key.String()); err != nil {
			return reset, apierror.Wrap(apierror.KindInternal, opWrite, "storage delete failed", err)
		}
		reset = append(reset, key.Name)
	}
	sort.Strings(reset)
	s.logger.Info("user data reset", zap.Strings("collections", reset))
	return reset, nil
}

func (s *Store) load(ctx context.Context, key Key) ([]Record, bool, error) {
	raw, found, err := s.backend.Get(ctx, key.String())
	if err != nil {
		return nil, false, apierror.Wrap(apierror.KindInternal, opRead, "storage read failed", err)
	}
	if !found {
		return nil, false, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, apierror.Wrap(apierror.KindInternal, opRead,
			fmt.Sprintf("collection %q is not a JSON array", key.Name), err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, true, nil
}

func notFound(name string) error {
	return apierror.Wrap(apierror.KindNotFound, opRead, "Not Found",
		fmt.Errorf("%w: %s", ErrCollectionNotFound, name))
}
