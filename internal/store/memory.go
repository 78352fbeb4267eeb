package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemDB is an in-memory Resolver. It backs tests and the "memory" database
// driver, and mirrors the JSON normalization of the Postgres store so the two
// are interchangeable.
type MemDB struct {
	mu   sync.Mutex
	cols map[string]*MemCollection
}

func NewMemDB() *MemDB {
	return &MemDB{cols: make(map[string]*MemCollection)}
}

func (d *MemDB) Collection(name string) Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cols[name]; ok {
		return c
	}
	c := &MemCollection{}
	d.cols[name] = c
	return c
}

type memEntry struct {
	id        string
	doc       Record
	rev       int64
	createdAt time.Time
	updatedAt time.Time
}

// MemCollection holds entries in insertion order.
type MemCollection struct {
	mu      sync.RWMutex
	entries []*memEntry
}

func (c *MemCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*memEntry
	for _, e := range c.entries {
		if matchFilter(e, filter) {
			matched = append(matched, e)
		}
	}
	sortEntries(matched, opts.Sort)

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	records := make([]Record, 0, len(matched))
	for _, e := range matched {
		records = append(records, ApplySelect(e.record(), opts.Select))
	}
	return records, nil
}

func (c *MemCollection) FindByID(ctx context.Context, id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.id == id {
			return e.record(), nil
		}
	}
	return nil, ErrNotFound
}

func (c *MemCollection) Count(ctx context.Context, filter Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, e := range c.entries {
		if matchFilter(e, filter) {
			n++
		}
	}
	return n, nil
}

func (c *MemCollection) Insert(ctx context.Context, doc Record) (Record, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	body, err := normalizeJSON(stripReserved(doc))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &memEntry{id: id, doc: body, rev: 1, createdAt: now, updatedAt: now}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return e.record(), nil
}

func (c *MemCollection) FindOneAndUpdate(ctx context.Context, filter Filter, patch Record) (Record, error) {
	normalized, err := normalizeJSON(stripReserved(patch))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if !matchFilter(e, filter) {
			continue
		}
		for k, v := range normalized {
			e.doc[k] = v
		}
		e.rev++
		e.updatedAt = time.Now().UTC()
		return e.record(), nil
	}
	return nil, ErrNotFound
}

func (c *MemCollection) Replace(ctx context.Context, id string, doc Record, rev int64) (Record, error) {
	normalized, err := normalizeJSON(stripReserved(doc))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.id != id {
			continue
		}
		if e.rev != rev {
			return nil, ErrConflict
		}
		e.doc = normalized
		e.rev++
		e.updatedAt = time.Now().UTC()
		return e.record(), nil
	}
	return nil, ErrNotFound
}

func (c *MemCollection) FindOneAndDelete(ctx context.Context, filter Filter) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if matchFilter(e, filter) {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return e.record(), nil
		}
	}
	return nil, ErrNotFound
}

func (e *memEntry) record() Record {
	rec := make(Record, len(e.doc)+4)
	// Deep-copy so callers cannot mutate stored state in place.
	b, _ := json.Marshal(e.doc)
	var doc Record
	_ = json.Unmarshal(b, &doc)
	for k, v := range doc {
		rec[k] = v
	}
	rec["id"] = e.id
	rec["rev"] = e.rev
	rec["createdAt"] = e.createdAt
	rec["updatedAt"] = e.updatedAt
	return rec
}

// normalizeJSON round-trips a document through JSON so stored values carry the
// same shapes the Postgres store returns (float64 numbers, RFC3339 strings).
func normalizeJSON(doc Record) (Record, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode doc: %w", err)
	}
	if out == nil {
		out = Record{}
	}
	return out, nil
}

func matchFilter(e *memEntry, filter Filter) bool {
	for _, key := range sortedKeys(filter) {
		val := filter[key]
		switch key {
		case "id":
			if e.id != val {
				return false
			}
		case SearchKey:
			term, _ := val.(string)
			if !containsText(e.doc, term) {
				return false
			}
		case "createdAt":
			if !matchTimestamp(e.createdAt, val) {
				return false
			}
		case "updatedAt":
			if !matchTimestamp(e.updatedAt, val) {
				return false
			}
		default:
			if !matchPath(e.doc, strings.Split(key, "."), val) {
				return false
			}
		}
	}
	return true
}

func matchTimestamp(t time.Time, val any) bool {
	r, ok := val.(Range)
	if !ok {
		other, ok := toTime(val)
		return ok && t.Equal(other)
	}
	if r.GTE != nil {
		if b, ok := toTime(r.GTE); !ok || t.Before(b) {
			return false
		}
	}
	if r.LTE != nil {
		if b, ok := toTime(r.LTE); !ok || t.After(b) {
			return false
		}
	}
	return true
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// matchPath walks a dotted path; any element of an intervening array may
// satisfy the remaining path.
func matchPath(v any, segs []string, want any) bool {
	if len(segs) == 0 {
		if like, ok := want.(Like); ok {
			s, ok := v.(string)
			return ok && strings.Contains(strings.ToLower(s), strings.ToLower(like.Substr))
		}
		normalized, err := normalizeJSON(Record{"v": want})
		if err != nil {
			return false
		}
		return reflect.DeepEqual(v, normalized["v"]) || anyElementEqual(v, normalized["v"])
	}

	switch node := v.(type) {
	case map[string]any:
		child, ok := node[segs[0]]
		if !ok {
			return false
		}
		return matchPath(child, segs[1:], want)
	case []any:
		for _, el := range node {
			if matchPath(el, segs, want) {
				return true
			}
		}
	}
	return false
}

func anyElementEqual(v, want any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, el := range arr {
		if reflect.DeepEqual(el, want) {
			return true
		}
	}
	return false
}

func containsText(v any, term string) bool {
	if term == "" {
		return true
	}
	term = strings.ToLower(term)
	switch node := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(node), term)
	case map[string]any:
		for _, child := range node {
			if containsText(child, term) {
				return true
			}
		}
	case []any:
		for _, el := range node {
			if containsText(el, term) {
				return true
			}
		}
	}
	return false
}

func sortEntries(entries []*memEntry, sortField string) {
	field := sortField
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	if field == "" {
		field = "createdAt"
		desc = true
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return entryLess(entries[j], entries[i], field)
		}
		return entryLess(entries[i], entries[j], field)
	})
}

func entryLess(a, b *memEntry, field string) bool {
	switch field {
	case "createdAt":
		return a.createdAt.Before(b.createdAt)
	case "updatedAt":
		return a.updatedAt.Before(b.updatedAt)
	case "id":
		return a.id < b.id
	}

	av := pathValue(a.doc, strings.Split(field, "."))
	bv := pathValue(b.doc, strings.Split(field, "."))
	switch x := av.(type) {
	case float64:
		y, ok := bv.(float64)
		return ok && x < y
	case string:
		y, ok := bv.(string)
		return ok && x < y
	}
	return false
}

func pathValue(v any, segs []string) any {
	for _, seg := range segs {
		node, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = node[seg]
	}
	return v
}
