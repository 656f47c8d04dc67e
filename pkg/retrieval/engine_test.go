package retrieval_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/memstore/memstoreinfra"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/retrieval"
	"github.com/aimemory/platform/pkg/storage/storagemem"
	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/aimemory/platform/pkg/vectorindex/vectorindexmem"
)

const testDim = 8

// keywordEmbedder produces fixed vectors keyed by known topic words so the
// fixture's similarity structure is deterministic.
type keywordEmbedder struct{ calls *int }

var topics = []string{"backend", "frontend", "database", "python", "secret"}

func (e keywordEmbedder) EmbedDocuments(_ context.Context, documents []string, _ ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	if e.calls != nil {
		*e.calls++
	}
	out := make([]embedgateway.Embedding, len(documents))
	for i, doc := range documents {
		v := make([]float32, testDim)
		lower := strings.ToLower(doc)
		for j, topic := range topics {
			if strings.Contains(lower, topic) {
				v[j] = 1
			}
		}
		v[testDim-1] = 0.01 // never a zero vector
		out[i] = embedgateway.Embedding{Vector: v}
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
	embs, _ := e.EmbedDocuments(ctx, []string{text}, opts...)
	return embs[0], nil
}

type allUsers struct{}

func (allUsers) UserExists(context.Context, kernel.UserID) (bool, error) { return true, nil }

type fixture struct {
	engine *retrieval.Engine
	memsvc *memstoresrv.MemoryService
	calls  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	repo := memstoreinfra.NewBackendMemoryRepository(storagemem.New(nil, ""))
	vectors := vectorindex.NewClient(vectorindexmem.New())
	gateway := embedgateway.NewGateway(keywordEmbedder{calls: &f.calls}, nil, embedgateway.GatewayConfig{
		ProviderName: "fake", Model: "fake", Dim: testDim,
	})

	f.memsvc = memstoresrv.NewMemoryService(
		repo, allUsers{}, vectors, gateway, nil, nil, nil,
		config.MemoryConfig{MaxKeyLength: 64, MaxValueBytes: 4096, GCHorizon: time.Hour},
	)
	f.engine = retrieval.NewEngine(repo, vectors, gateway, config.RetrievalConfig{})
	return f
}

func authFor(user string, role kernel.Role) *kernel.AuthContext {
	id := kernel.UserID(user)
	return &kernel.AuthContext{UserID: &id, Role: role}
}

func seed(t *testing.T, f *fixture, owner kernel.UserID, key, value string, importance float64, tags ...string) {
	t.Helper()
	_, err := f.memsvc.Put(context.Background(), owner, memstore.PutRequest{
		Key:        key,
		Value:      value,
		Importance: &importance,
		Tags:       tags,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func seedBackendFixture(t *testing.T, f *fixture, owner kernel.UserID) {
	seed(t, f, owner, "m_fastapi", "FastAPI backend development notes", 0.9, "backend", "python")
	seed(t, f, owner, "m_django", "Django backend development patterns", 0.8, "backend", "python")
	seed(t, f, owner, "m_postgres", "Postgres database tuning for backend services", 0.7, "database")
	seed(t, f, owner, "m_react", "React frontend component structure", 0.9, "frontend")
	seed(t, f, owner, "m_css", "CSS layout tricks", 0.3, "frontend")
}

func TestHybridSearchDeterministicOrder(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)
	auth := authFor("user-a", kernel.RoleUser)

	run := func() []string {
		results, err := f.engine.Search(context.Background(), auth, retrieval.SearchRequest{
			QueryText: "backend development",
			K:         3,
			Mode:      retrieval.ModeHybrid,
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		keys := make([]string, len(results))
		for i, r := range results {
			keys[i] = r.Memory.Key
		}
		return keys
	}

	first := run()
	second := run()

	if len(first) != 3 {
		t.Fatalf("expected 3 results, got %v", first)
	}
	if first[0] != "m_fastapi" || first[1] != "m_django" {
		t.Fatalf("unexpected top results: %v", first)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("ordering not deterministic: %v vs %v", first, second)
		}
	}
}

func TestCrossUserIsolation(t *testing.T) {
	f := newFixture(t)
	seed(t, f, "user-a", "secret", "the secret is 42", 0.5)
	ctx := context.Background()

	// User B sees nothing.
	results, err := f.engine.Search(ctx, authFor("user-b", kernel.RoleUser), retrieval.SearchRequest{
		QueryText: "secret",
		K:         5,
		Mode:      retrieval.ModeHybrid,
	})
	if err != nil {
		t.Fatalf("search as b: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("cross-user leak: %v", results)
	}

	// User B cannot force a target either.
	if _, err := f.engine.Search(ctx, authFor("user-b", kernel.RoleUser), retrieval.SearchRequest{
		QueryText:  "secret",
		K:          5,
		TargetUser: "user-a",
	}); err == nil {
		t.Fatal("expected forbidden for non-admin cross-user search")
	}

	// Admin with an explicit target does see it.
	results, err = f.engine.Search(ctx, authFor("admin-c", kernel.RoleAdmin), retrieval.SearchRequest{
		QueryText:  "secret",
		K:          5,
		Mode:       retrieval.ModeHybrid,
		TargetUser: "user-a",
	})
	if err != nil {
		t.Fatalf("admin search: %v", err)
	}
	if len(results) != 1 || results[0].Memory.Key != "secret" {
		t.Fatalf("admin should see target's memory: %v", results)
	}
}

func TestKZeroMakesNoVectorCall(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)
	callsBefore := f.calls

	results, err := f.engine.Search(context.Background(), authFor("user-a", kernel.RoleUser), retrieval.SearchRequest{
		QueryText: "backend",
		K:         0,
		Mode:      retrieval.ModeVector,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result for k=0, got %d", len(results))
	}
	if f.calls != callsBefore {
		t.Fatal("k=0 must not call the embedder")
	}
}

func TestEmptyQueryFallsBackToImportanceOrder(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)

	results, err := f.engine.Search(context.Background(), authFor("user-a", kernel.RoleUser), retrieval.SearchRequest{
		K:    3,
		Mode: retrieval.ModeHybrid,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Memory.Importance > results[i-1].Memory.Importance {
			t.Fatalf("results not ordered by importance: %v then %v",
				results[i-1].Memory.Key, results[i].Memory.Key)
		}
	}
}

func TestSearchDoesNotBumpAccessCountByDefault(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)
	ctx := context.Background()

	if _, err := f.engine.Search(ctx, authFor("user-a", kernel.RoleUser), retrieval.SearchRequest{
		QueryText: "backend development",
		K:         3,
	}); err != nil {
		t.Fatalf("search: %v", err)
	}

	m, err := f.memsvc.Peek(ctx, owner, "default", "m_fastapi")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if m.AccessCount != 0 {
		t.Fatalf("default search must not bump access_count, got %d", m.AccessCount)
	}
}

func TestRetrieveIDsReturnsPreviews(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)

	previews, err := f.engine.RetrieveIDs(context.Background(), authFor("user-a", kernel.RoleUser), retrieval.SearchRequest{
		QueryText: "backend development",
		K:         2,
	})
	if err != nil {
		t.Fatalf("retrieve ids: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(previews))
	}
	for _, p := range previews {
		if p.ID == "" || p.Key == "" || p.Preview == "" {
			t.Fatalf("incomplete preview: %+v", p)
		}
	}
}

func TestTagPatternPostFilter(t *testing.T) {
	f := newFixture(t)
	owner := kernel.UserID("user-a")
	seedBackendFixture(t, f, owner)

	results, err := f.engine.Search(context.Background(), authFor("user-a", kernel.RoleUser), retrieval.SearchRequest{
		QueryText:  "backend development",
		K:          5,
		TagPattern: "^data",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		found := false
		for _, tag := range r.Memory.Tags {
			if strings.HasPrefix(tag, "data") {
				found = true
			}
		}
		if !found {
			t.Fatalf("tag pattern leak: %v has tags %v", r.Memory.Key, r.Memory.Tags)
		}
	}
}
