// Package protected stores the per-collection authorization rules.
package protected

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
)

// StorageKey is where the rule list is persisted.
const StorageKey = "protectedData"

var errMissingBackend = errors.New("protected: kv backend is required")

// Rule declares which methods of a collection need a token, and whether data
// is scoped to the token's user.
type Rule struct {
	Route          string   `json:"route" yaml:"route"`
	Methods        []string `json:"methods" yaml:"methods"`
	IsUserSpecific bool     `json:"isUserSpecific" yaml:"isUserSpecific"`
}

// Requires reports whether method needs authentication under r.
func (r Rule) Requires(method string) bool {
	for _, candidate := range r.Methods {
		if strings.EqualFold(strings.TrimSpace(candidate), method) {
			return true
		}
	}
	return false
}

// Registry persists rules in a kv.Store.
type Registry struct {
	mu      sync.Mutex
	backend kv.Store
}

// NewRegistry wraps backend.
func NewRegistry(backend kv.Store) (*Registry, error) {
	if backend == nil {
		return nil, errMissingBackend
	}
	return &Registry{backend: backend}, nil
}

// Register stores rules. When rules already exist and overwrite is false the
// call leaves them untouched and reports false.
func (r *Registry) Register(ctx context.Context, rules []Rule, overwrite bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !overwrite {
		existing, err := r.load(ctx)
		if err != nil {
			return false, err
		}
		if len(existing) > 0 {
			return false, nil
		}
	}
	if rules == nil {
		rules = []Rule{}
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		return false, err
	}
	if err := r.backend.Set(ctx, StorageKey, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Rules returns the persisted rules in registration order.
func (r *Registry) Rules(ctx context.Context) ([]Rule, error) {
	return r.load(ctx)
}

// Match returns the first rule whose route equals name, ignoring case and
// surrounding whitespace.
func (r *Registry) Match(ctx context.Context, name string) (Rule, bool, error) {
	rules, err := r.load(ctx)
	if err != nil {
		return Rule{}, false, err
	}
	target := normalize(name)
	if target == "" {
		return Rule{}, false, nil
	}
	for _, rule := range rules {
		if normalize(rule.Route) == target {
			return rule, true, nil
		}
	}
	return Rule{}, false, nil
}

func (r *Registry) load(ctx context.Context) ([]Rule, error) {
	raw, found, err := r.backend.Get(ctx, StorageKey)
	if err != nil {
		return nil, err
	}
	if !found || len(raw) == 0 {
		return nil, nil
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
