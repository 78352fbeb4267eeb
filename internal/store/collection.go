package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("revision conflict")

// Record is one document as stored in a collection. The store reserves the
// keys id, rev, createdAt and updatedAt; everything else belongs to the caller.
type Record = map[string]any

// Filter maps a field path (dot-separated for nested documents) to a
// constraint. A scalar value means exact match; Range and Like are the other
// supported constraint kinds. A path that crosses an array of nested documents
// matches when any element matches.
type Filter map[string]any

// SearchKey is the reserved filter key carrying a free-text search constraint.
const SearchKey = "$search"

// Range constrains a field to an inclusive interval. Either bound may be nil.
// Only the createdAt and updatedAt timestamps support range constraints.
type Range struct {
	GTE any
	LTE any
}

// Like constrains a string field to a case-insensitive substring match.
type Like struct {
	Substr string
}

// Populate declares a reference expansion: the id held in Field is replaced by
// the referenced record from Collection, projected through Select.
type Populate struct {
	Field      string
	Collection string
	Select     string
}

// FindOptions controls projection, ordering and windowing of a Find call.
// Sort uses "-field" for descending. Select is a space-separated field list;
// a leading "-" excludes instead of includes.
type FindOptions struct {
	Select string
	Sort   string
	Skip   int
	Limit  int
}

// Collection is the persistence contract for one entity type. FindOneAndUpdate
// applies a shallow merge of patch into the matched record. Replace writes the
// whole document and fails with ErrConflict when the stored revision no longer
// matches rev.
type Collection interface {
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Record, error)
	FindByID(ctx context.Context, id string) (Record, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Insert(ctx context.Context, doc Record) (Record, error)
	FindOneAndUpdate(ctx context.Context, filter Filter, patch Record) (Record, error)
	Replace(ctx context.Context, id string, doc Record, rev int64) (Record, error)
	FindOneAndDelete(ctx context.Context, filter Filter) (Record, error)
}

// Resolver hands out collections by name. Implemented by both the Postgres
// store and the in-memory store.
type Resolver interface {
	Collection(name string) Collection
}

// reserved keys maintained by the store itself.
func isReservedKey(k string) bool {
	switch k {
	case "id", "rev", "createdAt", "updatedAt":
		return true
	}
	return false
}

// stripReserved returns a copy of doc without store-maintained keys.
func stripReserved(doc Record) Record {
	out := make(Record, len(doc))
	for k, v := range doc {
		if isReservedKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// sortedKeys returns filter keys in a stable order so generated SQL is
// deterministic.
func sortedKeys(f Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplySelect projects a record through a Mongo-style select string:
// "name mobile" keeps only those fields, "-password -otp" drops them.
// Reserved keys are always kept on inclusion projections.
func ApplySelect(rec Record, sel string) Record {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return rec
	}
	fields := strings.Fields(sel)
	exclude := strings.HasPrefix(fields[0], "-")

	out := make(Record, len(rec))
	if exclude {
		drop := make(map[string]bool, len(fields))
		for _, f := range fields {
			drop[strings.TrimPrefix(f, "-")] = true
		}
		for k, v := range rec {
			if !drop[k] {
				out[k] = v
			}
		}
		return out
	}

	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	for k, v := range rec {
		if keep[k] || isReservedKey(k) {
			out[k] = v
		}
	}
	return out
}
