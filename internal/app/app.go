// Package app assembles the mock backend from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/auth"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/config"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dispatch"
	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
	"github.com/MarcoPoloResearchLab/mockapi/internal/protected"
	"github.com/MarcoPoloResearchLab/mockapi/internal/resources"
	"github.com/MarcoPoloResearchLab/mockapi/internal/routing"
	"github.com/MarcoPoloResearchLab/mockapi/internal/seed"
	"github.com/MarcoPoloResearchLab/mockapi/internal/users"
	"go.uber.org/zap"
)

// Options tune assembly beyond what AppConfig carries.
type Options struct {
	Logger *zap.Logger
	Clock  func() time.Time
	// Delayer overrides the configured latency window.
	Delayer dispatch.Delayer
	// SkipSeed leaves the store untouched at startup.
	SkipSeed bool
}

// App holds the assembled components.
type App struct {
	Backend    kv.Store
	Store      *dataset.Store
	Registry   *protected.Registry
	Tokens     *auth.TokenService
	Feed       *changes.Feed
	Dispatcher *dispatch.Dispatcher
	Logger     *zap.Logger
}

// New opens the configured backend, applies the seed bundle and wires the dispatcher.
func New(ctx context.Context, cfg config.AppConfig, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	backend, err := kv.Open(ctx, kv.Options{
		Driver: cfg.StoreDriver,
		Path:   cfg.StorePath,
		Redis: kv.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	assembled, err := assemble(ctx, cfg, opts, backend, logger, clock)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	return assembled, nil
}

func assemble(ctx context.Context, cfg config.AppConfig, opts Options, backend kv.Store, logger *zap.Logger, clock func() time.Time) (*App, error) {
	store, err := dataset.NewStore(backend, logger)
	if err != nil {
		return nil, err
	}
	registry, err := protected.NewRegistry(backend)
	if err != nil {
		return nil, err
	}

	if !opts.SkipSeed {
		bundle, err := LoadBundle(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, bundle, store, registry, false); err != nil {
			return nil, err
		}
	}

	tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
		SigningSecret: []byte(cfg.TokenSecret),
		TokenTTL:      cfg.TokenTTL,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := routing.NewResolver(cfg.BaseURL, store)
	if err != nil {
		return nil, err
	}

	feed := changes.NewFeed()
	resourceService, err := resources.NewService(resources.ServiceConfig{Store: store, Publisher: feed, Logger: logger})
	if err != nil {
		return nil, err
	}
	userService, err := users.NewService(users.ServiceConfig{Store: store, Tokens: tokens, Publisher: feed, Logger: logger})
	if err != nil {
		return nil, err
	}

	delayer := opts.Delayer
	if delayer == nil {
		delayer = dispatch.NewRandomDelay(cfg.LatencyMin, cfg.LatencyMax, uint64(clock().UnixNano()))
	}
	dispatcher, err := dispatch.New(dispatch.Config{
		Store:     store,
		Registry:  registry,
		Resolver:  resolver,
		Tokens:    tokens,
		Resources: resourceService,
		Users:     userService,
		Publisher: feed,
		Delayer:   delayer,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Backend:    backend,
		Store:      store,
		Registry:   registry,
		Tokens:     tokens,
		Feed:       feed,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, nil
}

// LoadBundle reads the seed at path, or the embedded bundle when path is empty.
func LoadBundle(path string) (seed.Bundle, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.LoadFile(path)
}

// Close releases the backend.
func (a *App) Close() error {
	if a == nil || a.Backend == nil {
		return nil
	}
	return a.Backend.Close()
}
