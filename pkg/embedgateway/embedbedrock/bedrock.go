// Package embedbedrock is the AWS Bedrock embedding provider, backed by the
// Titan text embedding models via the InvokeModel API.
package embedbedrock

import (
	"context"
	"encoding/json"

	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ProviderOption configures the Bedrock provider
type ProviderOption func(*BedrockProvider)

// WithDefaultModel sets the default embedding model ID
func WithDefaultModel(model string) ProviderOption {
	return func(p *BedrockProvider) {
		p.defaultModel = model
	}
}

// BedrockProvider implements embedgateway.Embedder for AWS Bedrock.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider creates a new Bedrock embedding provider.
func NewBedrockProvider(cfg aws.Config, opts ...ProviderOption) *BedrockProvider {
	p := &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: "amazon.titan-embed-text-v2:0",
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// titanEmbedRequest is the InvokeModel body for the Titan embedding models.
type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// EmbedDocuments converts documents to embeddings. Titan embeds one text
// per invocation, so documents are processed sequentially.
func (p *BedrockProvider) EmbedDocuments(ctx context.Context, documents []string, opts ...embedgateway.Option) ([]embedgateway.Embedding, error) {
	if len(documents) == 0 {
		return nil, errorRegistry.New(ErrEmptyEmbeddingInput)
	}

	options := embedgateway.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	model := p.defaultModel
	if options.Model != "" {
		model = options.Model
	}

	embeddings := make([]embedgateway.Embedding, len(documents))
	for i, doc := range documents {
		body, err := json.Marshal(titanEmbedRequest{
			InputText:  doc,
			Dimensions: options.Dimensions,
		})
		if err != nil {
			return nil, errorRegistry.NewWithCause(ErrRequestEncoding, err)
		}

		output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, ParseBedrockError(err).
				WithDetail("model", model).
				WithDetail("document_index", i)
		}

		var resp titanEmbedResponse
		if err := json.Unmarshal(output.Body, &resp); err != nil {
			return nil, errorRegistry.NewWithCause(ErrResponseDecoding, err)
		}

		if len(resp.Embedding) == 0 {
			return nil, errorRegistry.New(ErrNoEmbeddingReturned).
				WithDetail("document_index", i)
		}

		embeddings[i] = embedgateway.Embedding{
			Vector: resp.Embedding,
			Usage: embedgateway.Usage{
				PromptTokens: resp.InputTextTokenCount,
				TotalTokens:  resp.InputTextTokenCount,
			},
		}
	}

	return embeddings, nil
}

// EmbedQuery converts a single query to an embedding.
func (p *BedrockProvider) EmbedQuery(ctx context.Context, text string, opts ...embedgateway.Option) (embedgateway.Embedding, error) {
	if text == "" {
		return embedgateway.Embedding{}, errorRegistry.New(ErrEmptyEmbeddingInput)
	}

	embeddings, err := p.EmbedDocuments(ctx, []string{text}, opts...)
	if err != nil {
		return embedgateway.Embedding{}, err
	}

	return embeddings[0], nil
}
