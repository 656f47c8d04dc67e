package memstoresrv_test

import (
	"context"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/memstore/memstoreinfra"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/storage/cachemem"
	"github.com/aimemory/platform/pkg/storage/storagemem"
	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/aimemory/platform/pkg/vectorindex/vectorindexmem"
)

const testDim = 8

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(_ context.Context, documents []string, _ ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	out := make([]embedgateway.Embedding, len(documents))
	for i, doc := range documents {
		v := make([]float32, testDim)
		for j := range v {
			v[j] = float32((len(doc)+j*7)%13) / 13.0
		}
		out[i] = embedgateway.Embedding{Vector: v}
	}
	return out, nil
}

func (f fakeEmbedder) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
	embs, _ := f.EmbedDocuments(ctx, []string{text}, opts...)
	return embs[0], nil
}

type allUsers struct{}

func (allUsers) UserExists(context.Context, kernel.UserID) (bool, error) { return true, nil }

// failingUpsertStore fails the first N vector upserts, then delegates.
type failingUpsertStore struct {
	*vectorindexmem.Store
	failures int
}

func (f *failingUpsertStore) Upsert(ctx context.Context, key vectorindex.CollectionKey, vectors []vectorindex.Vector, opts ...vectorindex.Option) error {
	if f.failures > 0 {
		f.failures--
		return context.DeadlineExceeded
	}
	return f.Store.Upsert(ctx, key, vectors, opts...)
}

func testConfig() config.MemoryConfig {
	return config.MemoryConfig{
		MaxKeyLength:  64,
		MaxValueBytes: 1024,
		GCHorizon:     time.Hour,
		HotCacheTTL:   time.Minute,
	}
}

func newService(t *testing.T, storer vectorindex.VectorStorer) *memstoresrv.MemoryService {
	t.Helper()
	repo := memstoreinfra.NewBackendMemoryRepository(storagemem.New(nil, ""))
	gateway := embedgateway.NewGateway(fakeEmbedder{}, nil, embedgateway.GatewayConfig{
		ProviderName: "fake", Model: "fake", Dim: testDim,
	})
	return memstoresrv.NewMemoryService(
		repo, allUsers{}, vectorindex.NewClient(storer), gateway,
		cachemem.New(), nil, nil, testConfig(),
	)
}

func TestPutGetRoundTrip(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	put, err := svc.Put(ctx, owner, memstore.PutRequest{
		Key:   "pref_lang",
		Value: "Python",
		Scope: memstore.ScopePersistent,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if put.NeedsReindex {
		t.Fatal("expected clean index on put")
	}

	got, err := svc.Get(ctx, owner, "default", "pref_lang")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "Python" {
		t.Fatalf("expected Python, got %q", got.Value)
	}
	if got.AccessCount != 1 {
		t.Fatalf("expected access_count 1, got %d", got.AccessCount)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatal("updated_at must not precede created_at")
	}
}

func TestPutOverwriteKeepsIdentity(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	first, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "k", Value: "v1"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "k", Value: "v2"})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("overwrite must keep the row id")
	}
	if second.Value != "v2" {
		t.Fatalf("expected v2, got %q", second.Value)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	if _, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "gone", Value: "x"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := svc.Delete(ctx, owner, "default", "gone"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := svc.Delete(ctx, owner, "default", "gone"); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}

	if _, err := svc.Get(ctx, owner, "default", "gone"); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestTagsNormalizedAndImportanceClamped(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	imp := 3.5
	m, err := svc.Put(ctx, owner, memstore.PutRequest{
		Key:        "tagged",
		Value:      "x",
		Tags:       []string{" Go ", "go", "", "Backend"},
		Importance: &imp,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "backend" || m.Tags[1] != "go" {
		t.Fatalf("unexpected tags: %v", m.Tags)
	}
	if m.Importance != 1 {
		t.Fatalf("expected importance clamped to 1, got %f", m.Importance)
	}
}

func TestKeyAndValueCaps(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	longKey := make([]byte, 65)
	for i := range longKey {
		longKey[i] = 'k'
	}
	if _, err := svc.Put(ctx, owner, memstore.PutRequest{Key: string(longKey), Value: "x"}); err == nil {
		t.Fatal("expected key length error")
	}

	bigValue := make([]byte, 2048)
	if _, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "big", Value: string(bigValue)}); err == nil {
		t.Fatal("expected value size error")
	}
}

func TestGCOnlyEvictsIdleWorkingScope(t *testing.T) {
	svc := newService(t, vectorindexmem.New())
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	if _, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "keep", Value: "x", Scope: memstore.ScopePersistent}); err != nil {
		t.Fatalf("put persistent: %v", err)
	}
	if _, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "fresh", Value: "x", Scope: memstore.ScopeWorking}); err != nil {
		t.Fatalf("put working: %v", err)
	}

	// Nothing is idle past the horizon yet.
	deleted, err := svc.GC(ctx, owner)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 evictions, got %d", deleted)
	}

	// gc twice in a row deletes the same (empty) set.
	deleted, err = svc.GC(ctx, owner)
	if err != nil {
		t.Fatalf("second gc: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected idempotent gc, got %d", deleted)
	}

	if _, err := svc.Peek(ctx, owner, "default", "keep"); err != nil {
		t.Fatalf("persistent memory must survive gc: %v", err)
	}
}

func TestPartialWriteFlagsAndReconciles(t *testing.T) {
	store := &failingUpsertStore{Store: vectorindexmem.New(), failures: 1}
	svc := newService(t, store)
	ctx := context.Background()
	owner := kernel.UserID("user-a")

	m, err := svc.Put(ctx, owner, memstore.PutRequest{Key: "flaky", Value: "resilient"})
	if err != nil {
		t.Fatalf("put should succeed despite vector failure: %v", err)
	}
	if !m.NeedsReindex {
		t.Fatal("expected needs_reindex flag after vector failure")
	}

	// The row is durable and readable even though the index write failed.
	got, err := svc.Peek(ctx, owner, "default", "flaky")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !got.NeedsReindex {
		t.Fatal("persisted record should carry the flag")
	}

	// The reconciler retries and clears the flag.
	if err := svc.Reindex(ctx, m.ID); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	got, err = svc.Peek(ctx, owner, "default", "flaky")
	if err != nil {
		t.Fatalf("peek after reindex: %v", err)
	}
	if got.NeedsReindex {
		t.Fatal("flag should clear after successful reindex")
	}
}
