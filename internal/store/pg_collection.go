package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCollection is one JSONB-backed document collection.
type PgCollection struct {
	pool  *pgxpool.Pool
	table string
}

type paramBuilder struct {
	params []any
	n      int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

const recordColumns = "id, doc, rev, created_at, updated_at"

func (c *PgCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Record, error) {
	pb := &paramBuilder{}
	where := buildWhere(pb, filter)

	sql := fmt.Sprintf("SELECT %s FROM %s", recordColumns, c.table)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + orderClause(pb, filter, opts.Sort)
	if opts.Limit > 0 {
		sql += " LIMIT " + pb.Add(opts.Limit)
	}
	if opts.Skip > 0 {
		sql += " OFFSET " + pb.Add(opts.Skip)
	}

	rows, err := QueryRows(ctx, c.pool, sql, pb.params...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.table, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, ApplySelect(decodeRow(row), opts.Select))
	}
	return records, nil
}

func (c *PgCollection) FindByID(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row, err := QueryRow(ctx, c.pool,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, c.table), id)
	if err != nil {
		return nil, err
	}
	return decodeRow(row), nil
}

func (c *PgCollection) Count(ctx context.Context, filter Filter) (int64, error) {
	pb := &paramBuilder{}
	where := buildWhere(pb, filter)

	sql := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", c.table)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	row, err := QueryRow(ctx, c.pool, sql, pb.params...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	n, _ := row["count"].(int64)
	return n, nil
}

func (c *PgCollection) Insert(ctx context.Context, doc Record) (Record, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	body, err := json.Marshal(stripReserved(doc))
	if err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}

	row, err := QueryRow(ctx, c.pool,
		fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb) RETURNING %s", c.table, recordColumns),
		id, string(body))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", c.table, err)
	}
	return decodeRow(row), nil
}

// FindOneAndUpdate shallow-merges patch into the first record matching filter.
func (c *PgCollection) FindOneAndUpdate(ctx context.Context, filter Filter, patch Record) (Record, error) {
	body, err := json.Marshal(stripReserved(patch))
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	pb := &paramBuilder{}
	patchParam := pb.Add(string(body))
	where := buildWhere(pb, filter)

	inner := fmt.Sprintf("SELECT id FROM %s", c.table)
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " LIMIT 1"

	sql := fmt.Sprintf(
		"UPDATE %s SET doc = doc || %s::jsonb, rev = rev + 1, updated_at = now() WHERE id IN (%s) RETURNING %s",
		c.table, patchParam, inner, recordColumns)

	row, err := QueryRow(ctx, c.pool, sql, pb.params...)
	if err != nil {
		return nil, err
	}
	return decodeRow(row), nil
}

// Replace writes the whole document, guarded by the expected revision.
func (c *PgCollection) Replace(ctx context.Context, id string, doc Record, rev int64) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	body, err := json.Marshal(stripReserved(doc))
	if err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}

	row, err := QueryRow(ctx, c.pool,
		fmt.Sprintf("UPDATE %s SET doc = $1::jsonb, rev = rev + 1, updated_at = now() WHERE id = $2 AND rev = $3 RETURNING %s",
			c.table, recordColumns),
		string(body), id, rev)
	if err == nil {
		return decodeRow(row), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("replace %s: %w", c.table, err)
	}

	// Distinguish a missing record from a lost race.
	_, lookupErr := QueryRow(ctx, c.pool,
		fmt.Sprintf("SELECT id FROM %s WHERE id = $1", c.table), id)
	if lookupErr == nil {
		return nil, ErrConflict
	}
	return nil, ErrNotFound
}

func (c *PgCollection) FindOneAndDelete(ctx context.Context, filter Filter) (Record, error) {
	pb := &paramBuilder{}
	where := buildWhere(pb, filter)

	inner := fmt.Sprintf("SELECT id FROM %s", c.table)
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " LIMIT 1"

	sql := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s) RETURNING %s", c.table, inner, recordColumns)

	row, err := QueryRow(ctx, c.pool, sql, pb.params...)
	if err != nil {
		return nil, err
	}
	return decodeRow(row), nil
}

// decodeRow flattens a (id, doc, rev, created_at, updated_at) row into one
// record map.
func decodeRow(row map[string]any) Record {
	rec := Record{}
	if doc, ok := row["doc"].(map[string]any); ok {
		for k, v := range doc {
			rec[k] = v
		}
	}
	rec["id"] = row["id"]
	rec["rev"] = row["rev"]
	rec["createdAt"] = row["created_at"]
	rec["updatedAt"] = row["updated_at"]
	return rec
}

func buildWhere(pb *paramBuilder, filter Filter) []string {
	var where []string
	for _, key := range sortedKeys(filter) {
		val := filter[key]
		switch key {
		case "id":
			s, _ := val.(string)
			if _, err := uuid.Parse(s); err != nil {
				where = append(where, "FALSE")
				continue
			}
			where = append(where, fmt.Sprintf("id = %s", pb.Add(s)))
		case SearchKey:
			where = append(where,
				fmt.Sprintf("to_tsvector('simple', doc) @@ plainto_tsquery('simple', %s)", pb.Add(val)))
		case "createdAt", "updatedAt":
			where = append(where, timestampClause(pb, key, val)...)
		default:
			where = append(where, docClause(pb, key, val))
		}
	}
	return where
}

func timestampClause(pb *paramBuilder, key string, val any) []string {
	col := "created_at"
	if key == "updatedAt" {
		col = "updated_at"
	}
	r, ok := val.(Range)
	if !ok {
		return []string{fmt.Sprintf("%s = %s", col, pb.Add(val))}
	}
	var clauses []string
	if r.GTE != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= %s", col, pb.Add(r.GTE)))
	}
	if r.LTE != nil {
		clauses = append(clauses, fmt.Sprintf("%s <= %s", col, pb.Add(r.LTE)))
	}
	return clauses
}

// docClause builds the WHERE fragment for a document field path. Exact matches
// use JSONB containment so a path crossing an array of nested documents
// matches any element, mirroring the query semantics the API promises.
func docClause(pb *paramBuilder, path string, val any) string {
	segs := strings.Split(path, ".")

	if like, ok := val.(Like); ok {
		return fmt.Sprintf("doc #>> '{%s}' ILIKE '%%' || %s || '%%'",
			strings.Join(segs, ","), pb.Add(like.Substr))
	}

	var clauses []string
	for _, variant := range containmentVariants(segs, val) {
		body, err := json.Marshal(variant)
		if err != nil {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("doc @> %s::jsonb", pb.Add(string(body))))
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// containmentVariants expands a field path into every object/array nesting the
// path could take, so {"status":[{"state":v}]} and {"pan":{"panNo":v}} are both
// matched by their dotted paths.
func containmentVariants(segs []string, val any) []any {
	if len(segs) == 0 {
		return []any{val}
	}
	inner := containmentVariants(segs[1:], val)
	variants := make([]any, 0, len(inner)*2)
	for _, iv := range inner {
		variants = append(variants, map[string]any{segs[0]: iv})
		variants = append(variants, map[string]any{segs[0]: []any{iv}})
	}
	return variants
}

func orderClause(pb *paramBuilder, filter Filter, sortField string) string {
	if search, ok := filter[SearchKey]; ok {
		// Relevance order wins for text searches.
		return fmt.Sprintf("ts_rank(to_tsvector('simple', doc), plainto_tsquery('simple', %s)) DESC", pb.Add(search))
	}

	field := sortField
	dir := "ASC"
	if strings.HasPrefix(field, "-") {
		field = field[1:]
		dir = "DESC"
	}
	switch field {
	case "":
		return "created_at DESC"
	case "createdAt":
		return "created_at " + dir
	case "updatedAt":
		return "updated_at " + dir
	case "id":
		return "id " + dir
	default:
		return fmt.Sprintf("doc #>> '{%s}' %s", strings.Join(strings.Split(field, "."), ","), dir)
	}
}
