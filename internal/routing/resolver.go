// Package routing turns request URLs into collection routes.
package routing

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
)

// DefaultBaseURL is the host every intercepted request is addressed to.
const DefaultBaseURL = "https://mockapi.com"

var errMissingKeySource = errors.New("routing: key source is required")

// KeySource enumerates the variant-qualified keys currently stored.
type KeySource interface {
	Keys(ctx context.Context) ([]dataset.Key, error)
}

// Route is the parsed form of a request URL.
type Route struct {
	// Collection is the first path segment.
	Collection string
	// Segments holds every non-empty path segment.
	Segments []string
	// Key is the variant backing Collection; only meaningful when Found is true.
	Key   dataset.Key
	Found bool
	ID    int64
	HasID bool
	// Params holds query parameters, last occurrence winning.
	Params map[string]string
}

// LastSegment returns the final path segment, or "" for the root path.
func (r Route) LastSegment() string {
	if len(r.Segments) == 0 {
		return ""
	}
	return r.Segments[len(r.Segments)-1]
}

// Resolver parses URLs relative to a base URL.
type Resolver struct {
	baseURL string
	keys    KeySource
}

// NewResolver builds a Resolver. An empty baseURL falls back to DefaultBaseURL.
func NewResolver(baseURL string, keys KeySource) (*Resolver, error) {
	if keys == nil {
		return nil, errMissingKeySource
	}
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	return &Resolver{baseURL: trimmed, keys: keys}, nil
}

// BaseURL reports the base the resolver strips.
func (r *Resolver) BaseURL() string {
	return r.baseURL
}

// Parse splits rawURL into path segments, id and query parameters without
// consulting the store.
func (r *Resolver) Parse(rawURL string) Route {
	path, rawQuery := r.split(rawURL)

	route := Route{Params: ParseQuery(rawQuery)}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		route.Segments = append(route.Segments, decodePath(segment))
	}
	if len(route.Segments) > 0 {
		route.Collection = route.Segments[0]
	}
	if len(route.Segments) > 1 {
		if id, err := strconv.ParseInt(route.Segments[1], 10, 64); err == nil {
			route.ID = id
			route.HasID = true
		}
	}
	return route
}

// Resolve parses rawURL and locates the stored variant for its collection,
// preferring the user variant.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Route, error) {
	route := r.Parse(rawURL)
	if route.Collection == "" {
		return route, nil
	}
	keys, err := r.keys.Keys(ctx)
	if err != nil {
		return route, err
	}
	var fallback *dataset.Key
	for index := range keys {
		key := keys[index]
		if key.Name != route.Collection {
			continue
		}
		if key.Variant == dataset.VariantUser {
			route.Key = key
			route.Found = true
			return route, nil
		}
		if fallback == nil {
			fallback = &keys[index]
		}
	}
	if fallback != nil {
		route.Key = *fallback
		route.Found = true
	}
	return route, nil
}

func (r *Resolver) split(rawURL string) (string, string) {
	remainder := strings.TrimSpace(rawURL)
	if index := strings.IndexByte(remainder, '#'); index >= 0 {
		remainder = remainder[:index]
	}
	if hasPrefixFold(remainder, r.baseURL) {
		remainder = remainder[len(r.baseURL):]
	} else if strings.Contains(remainder, "://") {
		if parsed, err := url.Parse(remainder); err == nil {
			remainder = parsed.EscapedPath()
			if parsed.RawQuery != "" {
				remainder += "?" + parsed.RawQuery
			}
		}
	}
	path, rawQuery, _ := strings.Cut(remainder, "?")
	return path, rawQuery
}

// ParseQuery decodes a&b=c style query strings. Repeated keys keep the last
// value; values that are not well-formed percent encodings are kept verbatim.
func ParseQuery(rawQuery string) map[string]string {
	params := make(map[string]string)
	if rawQuery == "" {
		return params
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		name = decode(name)
		if name == "" {
			continue
		}
		params[name] = decode(value)
	}
	return params
}

func decode(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

func decodePath(segment string) string {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return segment
	}
	return decoded
}

func hasPrefixFold(value, prefix string) bool {
	return len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix)
}
