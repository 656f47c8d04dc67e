// Package embedgemini is the Google Gemini embedding provider.
package embedgemini

import (
	"context"
	"os"

	"github.com/aimemory/platform/pkg/embedgateway"
	"google.golang.org/genai"
)

// ProviderOption configures the Gemini provider
type ProviderOption func(*GeminiProvider)

// WithEmbeddingModel sets the default embedding model
func WithEmbeddingModel(model string) ProviderOption {
	return func(p *GeminiProvider) {
		p.embeddingModel = model
	}
}

// GeminiProvider implements embedgateway.Embedder for Google Gemini.
type GeminiProvider struct {
	client         *genai.Client
	apiKey         string
	embeddingModel string
}

// NewGeminiProvider creates a new Gemini embedding provider. The key falls
// back to GEMINI_API_KEY when empty.
func NewGeminiProvider(ctx context.Context, apiKey string, opts ...ProviderOption) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrClientInit, err)
	}

	p := &GeminiProvider{
		client:         client,
		apiKey:         apiKey,
		embeddingModel: "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// EmbedDocuments converts documents to embeddings.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, documents []string, opts ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	if len(documents) == 0 {
		return nil, errorRegistry.New(ErrEmptyEmbeddingInput)
	}

	options := embedgateway.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	model := p.embeddingModel
	if options.Model != "" {
		model = options.Model
	}

	var contents []*genai.Content
	for _, doc := range documents {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(doc)},
		})
	}

	config := &genai.EmbedContentConfig{}
	if options.Dimensions > 0 {
		dim := int32(options.Dimensions)
		config.OutputDimensionality = &dim
	}

	resp, err := p.client.Models.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, ParseGeminiError(err).
			WithDetail("model", model).
			WithDetail("num_documents", len(documents))
	}

	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, errorRegistry.New(ErrNoEmbeddingReturned)
	}

	embeddings := make([]embedgateway.Embedding, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		embeddings[i] = embedgateway.Embedding{
			Vector: emb.Values,
		}
	}

	return embeddings, nil
}

// EmbedQuery converts a single query to an embedding.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
	if text == "" {
		return embedgateway.Embedding{}, errorRegistry.New(ErrEmptyEmbeddingInput)
	}

	embeddings, err := p.EmbedDocuments(ctx, []string{text}, opts...)
	if err != nil {
		return embedgateway.Embedding{}, err
	}

	if len(embeddings) == 0 {
		return embedgateway.Embedding{}, errorRegistry.New(ErrNoEmbeddingReturned)
	}

	return embeddings[0], nil
}
