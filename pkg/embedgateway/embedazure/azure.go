// Package embedazure is the Azure OpenAI embedding provider. The model name
// is the Azure deployment name, not the underlying OpenAI model id.
package embedazure

import (
	"context"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

// ProviderOption configures the Azure OpenAI provider
type ProviderOption func(*AzureProvider)

// WithAPIVersion sets the Azure OpenAI API version
func WithAPIVersion(version string) ProviderOption {
	return func(p *AzureProvider) {
		p.apiVersion = version
	}
}

// WithAzureADCredential configures Azure AD authentication
func WithAzureADCredential(cred azcore.TokenCredential) ProviderOption {
	return func(p *AzureProvider) {
		p.tokenCredential = cred
	}
}

// AzureProvider implements embedgateway.Embedder for Azure OpenAI.
type AzureProvider struct {
	client          openai.Client
	endpoint        string
	apiKey          string
	apiVersion      string
	tokenCredential azcore.TokenCredential
}

// NewAzureProvider creates a new Azure OpenAI embedding provider.
func NewAzureProvider(endpoint, apiKey string, opts ...ProviderOption) *AzureProvider {
	p := &AzureProvider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		apiVersion: "2024-06-01",
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.apiKey == "" {
		p.apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}

	var clientOpts []option.RequestOption
	clientOpts = append(clientOpts, azure.WithEndpoint(p.endpoint, p.apiVersion))

	if p.tokenCredential != nil {
		clientOpts = append(clientOpts, azure.WithTokenCredential(p.tokenCredential))
	} else {
		clientOpts = append(clientOpts, azure.WithAPIKey(p.apiKey))
	}

	p.client = openai.NewClient(clientOpts...)
	return p
}

// EmbedDocuments converts documents to embeddings.
func (p *AzureProvider) EmbedDocuments(ctx context.Context, documents []string, opts ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	if p.endpoint == "" {
		return nil, errorRegistry.New(ErrMissingEndpoint)
	}
	if len(documents) == 0 {
		return nil, errorRegistry.New(ErrEmptyEmbeddingInput)
	}

	options := embedgateway.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.Model == "" {
		return nil, errorRegistry.New(ErrMissingEndpoint).
			WithDetail("error", "deployment name is required for Azure OpenAI embeddings")
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: documents,
		},
		Model: options.Model,
	}

	if options.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(options.Dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, ParseAzureError(err).
			WithDetail("model", options.Model).
			WithDetail("num_documents", len(documents))
	}

	if len(resp.Data) == 0 {
		return nil, errorRegistry.New(ErrNoEmbeddingReturned)
	}

	embeddings := make([]embedgateway.Embedding, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = embedgateway.Embedding{
			Vector: convertToFloat32Slice(data.Embedding),
			Usage: embedgateway.Usage{
				PromptTokens: int(resp.Usage.PromptTokens),
				TotalTokens:  int(resp.Usage.TotalTokens),
			},
		}
	}

	return embeddings, nil
}

// EmbedQuery converts a single query to an embedding.
func (p *AzureProvider) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
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

func convertToFloat32Slice(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
