package embedgateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/storage/cachemem"
)

// fakeEmbedder returns a deterministic vector per text and counts calls.
type fakeEmbedder struct {
	calls int
	dim   int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, documents []string, _ ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	f.calls++
	out := make([]embedgateway.Embedding, len(documents))
	for i, doc := range documents {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(doc)+i) / float32(j+1)
		}
		out[i] = embedgateway.Embedding{Vector: v}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
	embs, err := f.EmbedDocuments(ctx, []string{text}, opts...)
	if err != nil {
		return embedgateway.Embedding{}, err
	}
	return embs[0], nil
}

func newTestGateway(dim int) (*embedgateway.Gateway, *fakeEmbedder) {
	fe := &fakeEmbedder{dim: dim}
	g := embedgateway.NewGateway(fe, cachemem.New(), embedgateway.GatewayConfig{
		ProviderName: "fake",
		Model:        "fake-model",
		Dim:          dim,
		CacheTTL:     time.Minute,
	})
	return g, fe
}

func TestGateway_EmbedCachesByText(t *testing.T) {
	g, fe := newTestGateway(4)
	ctx := context.Background()

	first, err := g.Embed(ctx, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if fe.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", fe.calls)
	}

	second, err := g.Embed(ctx, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("cached embed failed: %v", err)
	}
	if fe.calls != 1 {
		t.Fatalf("expected cache hit, provider called %d times", fe.calls)
	}

	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("cached vector differs at [%d][%d]", i, j)
			}
		}
	}
}

func TestGateway_EmbedPartialCacheHit(t *testing.T) {
	g, fe := newTestGateway(4)
	ctx := context.Background()

	if _, err := g.Embed(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if _, err := g.Embed(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	// "alpha" served from cache, only "beta" goes to the provider.
	if fe.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", fe.calls)
	}
}

func TestGateway_EmptyInputRejected(t *testing.T) {
	g, _ := newTestGateway(4)
	if _, err := g.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestGateway_DimensionMismatchRejected(t *testing.T) {
	fe := &fakeEmbedder{dim: 3}
	g := embedgateway.NewGateway(fe, nil, embedgateway.GatewayConfig{
		ProviderName: "fake",
		Model:        "fake-model",
		Dim:          8, // declared dim differs from what the provider returns
	})
	if _, err := g.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestGateway_RerankUnsupported(t *testing.T) {
	g, _ := newTestGateway(4)
	if g.CanRerank() {
		t.Fatal("fake embedder should not rerank")
	}
	if _, err := g.Rerank(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected rerank unsupported error")
	}
}
