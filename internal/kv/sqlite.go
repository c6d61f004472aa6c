package kv

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("kv: database handle is required")

// SQLiteStore persists entries in the kv_entries table through gorm.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an already migrated gorm handle.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry database.Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	entry := database.Entry{
		Key:              key,
		Value:            value,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&entry).Error
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&database.Entry{}).Error
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&database.Entry{}).
		Order("entry_key ASC").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*SQLiteStore)(nil)
