package dataset

import "strings"

const (
	// KeyPrefix marks every collection key in the backing store.
	KeyPrefix = "fakeCollection_"

	variantSeparator = "__"
)

// Variant names one of the two physical slots a collection can occupy.
type Variant string

const (
	// VariantDefault holds seed data.
	VariantDefault Variant = "default"
	// VariantUser holds user-provided data and shadows the default slot.
	VariantUser Variant = "user"
)

// Key is a variant-qualified collection identifier.
type Key struct {
	Name    string
	Variant Variant
}

// UserKey returns the user slot for name.
func UserKey(name string) Key {
	return Key{Name: name, Variant: VariantUser}
}

// DefaultKey returns the default slot for name.
func DefaultKey(name string) Key {
	return Key{Name: name, Variant: VariantDefault}
}

// String renders the storage key, e.g. fakeCollection_orders__user.
func (k Key) String() string {
	return KeyPrefix + k.Name + variantSeparator + string(k.Variant)
}

// ParseKey reports whether raw is a variant-qualified storage key and decodes it.
func ParseKey(raw string) (Key, bool) {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return Key{}, false
	}
	rest := strings.TrimPrefix(raw, KeyPrefix)
	for _, variant := range []Variant{VariantUser, VariantDefault} {
		suffix := variantSeparator + string(variant)
		if strings.HasSuffix(rest, suffix) {
			name := strings.TrimSuffix(rest, suffix)
			if name == "" {
				return Key{}, false
			}
			return Key{Name: name, Variant: variant}, true
		}
	}
	return Key{}, false
}
