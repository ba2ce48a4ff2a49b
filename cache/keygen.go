package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Kind distinguishes collection queries from single entities
type Kind int

const (
	KindList Kind = iota
	KindEntity
)

// Key identifies a cache entry. Keys are comparable and two keys built
// from equal arguments are always equal.
type Key struct {
	Kind       Kind   `json:"kind"`
	Collection string `json:"collection"`
	ID         int    `json:"id,omitempty"`
	Query      string `json:"query,omitempty"`
}

// ListKey builds a key for a collection query. Parameter order does not
// matter; values are taken as given, so callers that treat a value as a
// set should normalise it first (see JoinSet).
func ListKey(collection string, params map[string]string) Key {
	q := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	// Encode sorts by name
	return Key{Kind: KindList, Collection: collection, Query: q.Encode()}
}

// EntityKey builds a key for a single entity of a collection
func EntityKey(collection string, id int) Key {
	return Key{Kind: KindEntity, Collection: collection, ID: id}
}

// JoinSet sorts and comma-joins a set of values so that the same set in a
// different order produces the same key.
func JoinSet(values []string) string {
	if len(values) == 0 {
		return ""
	}
	sorted := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			sorted = append(sorted, v)
		}
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// String renders products, products?limit=10 or products/1
func (k Key) String() string {
	switch k.Kind {
	case KindEntity:
		return k.Collection + "/" + strconv.Itoa(k.ID)
	default:
		if k.Query == "" {
			return k.Collection
		}
		return k.Collection + "?" + k.Query
	}
}

// Params decodes the normalised query of a list key
func (k Key) Params() url.Values {
	v, err := url.ParseQuery(k.Query)
	if err != nil {
		return url.Values{}
	}
	return v
}

// Predicate selects keys for bulk operations
type Predicate func(Key) bool

// Exact matches a single key
func Exact(key Key) Predicate {
	return func(k Key) bool { return k == key }
}

// Lists matches every list key of a collection
func Lists(collection string) Predicate {
	return func(k Key) bool { return k.Kind == KindList && k.Collection == collection }
}

// Entities matches every entity key of a collection
func Entities(collection string) Predicate {
	return func(k Key) bool { return k.Kind == KindEntity && k.Collection == collection }
}

// Collection matches all keys of a collection
func Collection(collection string) Predicate {
	return func(k Key) bool { return k.Collection == collection }
}

// All matches every key
func All() Predicate {
	return func(Key) bool { return true }
}
