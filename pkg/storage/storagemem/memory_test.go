package storagemem

import (
	"context"
	"testing"

	"github.com/aimemory/platform/pkg/storage"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "")

	if err := s.Put(ctx, "memories", "m1", storage.Row{Fields: map[string]any{"title": "hello"}}); err != nil {
		t.Fatalf("put: %v", err)
	}

	row, err := s.Get(ctx, "memories", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Fields["title"] != "hello" {
		t.Fatalf("unexpected fields: %+v", row.Fields)
	}

	if err := s.Put(ctx, "memories", "m1", storage.Row{Fields: map[string]any{"title": "dup"}}); err == nil {
		t.Fatal("expected conflict on duplicate put")
	}

	if err := s.Delete(ctx, "memories", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "memories", "m1"); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "")

	if err := s.Upsert(ctx, "memories", "m1", storage.Row{Fields: map[string]any{"v": "a"}}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := s.Upsert(ctx, "memories", "m1", storage.Row{Fields: map[string]any{"v": "b"}}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	row, _ := s.Get(ctx, "memories", "m1")
	if row.Fields["v"] != "b" {
		t.Fatalf("expected overwritten value, got %+v", row.Fields)
	}
}

func TestQueryWithPredicateAndPaging(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "")

	for i, owner := range []string{"u1", "u1", "u2"} {
		id := string(rune('a' + i))
		s.Put(ctx, "memories", id, storage.Row{Fields: map[string]any{
			"owner_user_id": owner,
			"rank":          float64(i),
		}})
	}

	rows, total, err := s.Query(ctx, "memories", storage.QuerySpec{
		Predicate: storage.Eq("owner_user_id", "u1"),
		Order:     []storage.Order{{Field: "rank", Desc: true}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 matches, got total=%d rows=%d", total, len(rows))
	}
	if rows[0].Fields["rank"].(float64) != 1 {
		t.Fatalf("expected descending order, got %+v", rows)
	}
}

func TestQueryTagContainsAny(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "")

	s.Put(ctx, "memories", "a", storage.Row{Fields: map[string]any{"tags": []string{"work", "urgent"}}})
	s.Put(ctx, "memories", "b", storage.Row{Fields: map[string]any{"tags": []string{"personal"}}})

	rows, _, err := s.Query(ctx, "memories", storage.QuerySpec{
		Predicate: storage.TagContainsAny("tags", "urgent"),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "a" {
		t.Fatalf("expected only row a, got %+v", rows)
	}
}

func TestBeginAfterCommitDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// a second Begin must not deadlock once the first tx is committed
	tx2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	_ = tx2.Rollback(ctx)
}
