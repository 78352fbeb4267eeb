package store

import (
	"context"
	"testing"
)

func seedCollection(t *testing.T) Collection {
	t.Helper()
	col := NewMemDB().Collection("loans")
	ctx := context.Background()

	docs := []Record{
		{"user": "u1", "amount": 5000, "pan": map[string]any{"panNo": "ABCDE1234F"}},
		{"user": "u1", "amount": 12000, "status": []any{map[string]any{"state": "pending"}}},
		{"user": "u2", "amount": 99000, "purpose": "Home renovation work"},
	}
	for _, d := range docs {
		if _, err := col.Insert(ctx, d); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return col
}

func TestFindByTopLevelField(t *testing.T) {
	col := seedCollection(t)

	recs, err := col.Find(context.Background(), Filter{"user": "u1"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records for u1, got %d", len(recs))
	}
}

func TestFindByDottedPath(t *testing.T) {
	col := seedCollection(t)

	recs, err := col.Find(context.Background(), Filter{"pan.panNo": "ABCDE1234F"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestFindDottedPathCrossesArray(t *testing.T) {
	col := seedCollection(t)

	// status is an array of entries; any element may satisfy the path.
	recs, err := col.Find(context.Background(), Filter{"status.state": "pending"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestFindLike(t *testing.T) {
	col := seedCollection(t)

	recs, err := col.Find(context.Background(), Filter{"purpose": Like{Substr: "renovation"}}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestFindSearch(t *testing.T) {
	col := seedCollection(t)

	recs, err := col.Find(context.Background(), Filter{SearchKey: "Renovation"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(recs))
	}
}

func TestFindSkipLimitAndCount(t *testing.T) {
	col := seedCollection(t)
	ctx := context.Background()

	recs, err := col.Find(ctx, Filter{}, FindOptions{Limit: 2, Skip: 2})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record on last page, got %d", len(recs))
	}

	// Count ignores the page window.
	n, err := col.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}

func TestInsertNormalizesNumbers(t *testing.T) {
	col := NewMemDB().Collection("loans")
	rec, err := col.Insert(context.Background(), Record{"amount": 5000})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok := rec["amount"].(float64); !ok {
		t.Fatalf("expected amount stored as float64, got %T", rec["amount"])
	}
	if rev, _ := rec["rev"].(int64); rev != 1 {
		t.Fatalf("expected rev 1, got %v", rec["rev"])
	}
}

func TestFindOneAndUpdateShallowMerge(t *testing.T) {
	col := NewMemDB().Collection("loans")
	ctx := context.Background()

	rec, err := col.Insert(ctx, Record{"amount": 5000, "purpose": "bike"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id, _ := rec["id"].(string)

	updated, err := col.FindOneAndUpdate(ctx, Filter{"id": id}, Record{"amount": 7000})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["amount"].(float64) != 7000 {
		t.Fatalf("expected amount 7000, got %v", updated["amount"])
	}
	// Untouched fields survive a shallow merge.
	if updated["purpose"] != "bike" {
		t.Fatalf("expected purpose preserved, got %v", updated["purpose"])
	}
	if updated["rev"].(int64) != 2 {
		t.Fatalf("expected rev bumped to 2, got %v", updated["rev"])
	}
}

func TestReplaceRevisionConflict(t *testing.T) {
	col := NewMemDB().Collection("loans")
	ctx := context.Background()

	rec, err := col.Insert(ctx, Record{"amount": 5000})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id, _ := rec["id"].(string)

	if _, err := col.Replace(ctx, id, Record{"amount": 6000}, 1); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	// Second writer still holds rev 1.
	if _, err := col.Replace(ctx, id, Record{"amount": 7000}, 1); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestReplaceMissingRecord(t *testing.T) {
	col := NewMemDB().Collection("loans")
	if _, err := col.Replace(context.Background(), "no-such-id", Record{}, 1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOneAndDelete(t *testing.T) {
	col := seedCollection(t)
	ctx := context.Background()

	if _, err := col.FindOneAndDelete(ctx, Filter{"user": "u2"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := col.Count(ctx, Filter{})
	if n != 2 {
		t.Fatalf("expected 2 records after delete, got %d", n)
	}
	if _, err := col.FindOneAndDelete(ctx, Filter{"user": "u2"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSortByDocField(t *testing.T) {
	col := seedCollection(t)

	recs, err := col.Find(context.Background(), Filter{}, FindOptions{Sort: "-amount"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if recs[0]["amount"].(float64) != 99000 {
		t.Fatalf("expected largest amount first, got %v", recs[0]["amount"])
	}
}

func TestApplySelectInclude(t *testing.T) {
	rec := Record{"id": "1", "rev": int64(1), "name": "a", "password": "secret", "mobile": "9"}
	out := ApplySelect(rec, "name mobile")
	if _, ok := out["password"]; ok {
		t.Fatal("expected password dropped by inclusion projection")
	}
	if out["name"] != "a" || out["mobile"] != "9" {
		t.Fatalf("expected selected fields kept, got %v", out)
	}
	// Reserved keys ride along on inclusion projections.
	if out["id"] != "1" {
		t.Fatal("expected id kept")
	}
}

func TestApplySelectExclude(t *testing.T) {
	rec := Record{"name": "a", "password": "secret", "otp": "123"}
	out := ApplySelect(rec, "-password -otp")
	if _, ok := out["password"]; ok {
		t.Fatal("expected password excluded")
	}
	if _, ok := out["otp"]; ok {
		t.Fatal("expected otp excluded")
	}
	if out["name"] != "a" {
		t.Fatal("expected name kept")
	}
}
