package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/mockapi/internal/database"
	"go.uber.org/zap"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

// Options selects and configures a Store driver.
type Options struct {
	Driver string
	Path   string
	Redis  RedisConfig
	Logger *zap.Logger
}

// Open constructs the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		db, err := database.OpenSQLite(opts.Path, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db)
	case DriverRedis:
		store, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("redis store connected", zap.String("address", opts.Redis.Address))
		return store, nil
	case DriverFile:
		return NewFileStore(opts.Path)
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", opts.Driver)
	}
}
