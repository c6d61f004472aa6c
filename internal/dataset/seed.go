package dataset

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// UsersCollection is the collection login and register operate on.
const UsersCollection = "users"

// BootstrapUser returns the account guaranteed to exist after initialization.
func BootstrapUser() Record {
	return Record{
		IDField:     int64(1),
		"username":  "admin",
		"password":  "admin",
		"firstName": "Vivek",
		"lastName":  "Agarwal",
	}
}

// InitializeDefaults seeds collections without ever overwriting existing data.
// Default seeding skips names that have any variant; user seeding skips names
// that already have a user variant. A users collection is created with the
// bootstrap account when none exists.
func (s *Store) InitializeDefaults(ctx context.Context, seed map[string][]Record, asUser bool) error {
	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		occupied, err := s.slotOccupied(ctx, name, asUser)
		if err != nil {
			return err
		}
		if occupied {
			continue
		}
		if err := s.Write(ctx, name, seed[name], asUser); err != nil {
			return err
		}
		s.logger.Debug("collection seeded", zap.String("collection", name), zap.Bool("user", asUser))
	}

	_, found, err := s.Resolve(ctx, UsersCollection)
	if err != nil {
		return err
	}
	if !found {
		if err := s.Write(ctx, UsersCollection, []Record{BootstrapUser()}, false); err != nil {
			return err
		}
		s.logger.Info("bootstrap user created", zap.String("collection", UsersCollection))
	}
	return nil
}

func (s *Store) slotOccupied(ctx context.Context, name string, asUser bool) (bool, error) {
	if asUser {
		return s.Exists(ctx, UserKey(name))
	}
	_, found, err := s.Resolve(ctx, name)
	return found, err
}
