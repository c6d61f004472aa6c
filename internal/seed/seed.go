// Package seed loads fixture bundles and applies them to the store and the
// protected-route registry.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/protected"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultBundle []byte

var (
	errMissingStore    = errors.New("seed: dataset store is required")
	errMissingRegistry = errors.New("seed: protected route registry is required")
)

// Bundle is a set of collections plus the rules protecting them.
type Bundle struct {
	Collections     map[string][]dataset.Record `yaml:"collections" json:"collections"`
	ProtectedRoutes []protected.Rule            `yaml:"protectedRoutes" json:"protectedRoutes"`
}

// Default returns the embedded bundle.
func Default() (Bundle, error) {
	return Load(bytes.NewReader(defaultBundle))
}

// Load decodes a YAML (or JSON) bundle.
func Load(reader io.Reader) (Bundle, error) {
	var bundle Bundle
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&bundle); err != nil {
		if errors.Is(err, io.EOF) {
			return Bundle{}, nil
		}
		return Bundle{}, fmt.Errorf("seed: decode bundle: %w", err)
	}
	return bundle, nil
}

// LoadFile reads a bundle from path.
func LoadFile(path string) (Bundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}

// Apply seeds bundle without overwriting existing collections. Rules are
// replaced when asUser is set and otherwise only written when none exist.
func Apply(ctx context.Context, bundle Bundle, store *dataset.Store, registry *protected.Registry, asUser bool) error {
	if store == nil {
		return errMissingStore
	}
	if registry == nil {
		return errMissingRegistry
	}
	if err := store.InitializeDefaults(ctx, bundle.Collections, asUser); err != nil {
		return fmt.Errorf("seed: initialize collections: %w", err)
	}
	if bundle.ProtectedRoutes == nil {
		return nil
	}
	if _, err := registry.Register(ctx, bundle.ProtectedRoutes, asUser); err != nil {
		return fmt.Errorf("seed: register protected routes: %w", err)
	}
	return nil
}
