// Package embedanthropic provides a reranker backed by Anthropic Claude.
// Anthropic has no embedding endpoint, so this package implements only the
// rerank capability: the model scores each candidate's relevance to the
// query and returns a reordered list.
package embedanthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// RerankProvider implements embedgateway.Reranker using Claude.
type RerankProvider struct {
	client anthropic.Client
	apiKey string
	model  string
}

// NewRerankProvider creates a new Claude-backed reranker. The key falls
// back to ANTHROPIC_API_KEY when empty.
func NewRerankProvider(apiKey string, opts ...option.RequestOption) *RerankProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(options...)

	return &RerankProvider{
		client: client,
		apiKey: apiKey,
		model:  "claude-3-5-haiku-latest",
	}
}

const rerankSystemPrompt = `You are a relevance scoring engine. Given a query and a numbered list of candidate documents, score each candidate's relevance to the query from 0.0 (irrelevant) to 1.0 (highly relevant). Respond with ONLY a JSON array of objects with "index" and "score" fields, one per candidate, no prose.`

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores candidates against the query and returns them ordered by
// descending relevance.
func (p *RerankProvider) Rerank(ctx context.Context, query string, candidates []string, opts ...embedgateway.Option) ([]embedgateway.RerankResult, error) {
	if p.apiKey == "" {
		return nil, errorRegistry.New(ErrMissingAPIKey)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	options := embedgateway.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	model := p.model
	if options.Model != "" {
		model = options.Model
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s\n", i, c)
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: rerankSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return nil, ParseAnthropicError(err).
			WithDetail("model", model).
			WithDetail("num_candidates", len(candidates))
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	scores, err := parseScores(text, len(candidates))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	limit := len(scores)
	if options.TopN > 0 && options.TopN < limit {
		limit = options.TopN
	}

	results := make([]embedgateway.RerankResult, 0, limit)
	for _, s := range scores[:limit] {
		results = append(results, embedgateway.RerankResult{
			Index: s.Index,
			Score: s.Score,
		})
	}

	return results, nil
}

// parseScores extracts the JSON score array from the model's reply,
// tolerating surrounding text and clamping out-of-range values.
func parseScores(text string, numCandidates int) ([]rerankScore, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, errorRegistry.New(ErrMalformedScores).
			WithDetail("response_preview", preview(text))
	}

	var scores []rerankScore
	if err := json.Unmarshal([]byte(text[start:end+1]), &scores); err != nil {
		return nil, errorRegistry.NewWithCause(ErrMalformedScores, err)
	}

	valid := scores[:0]
	for _, s := range scores {
		if s.Index < 0 || s.Index >= numCandidates {
			continue
		}
		if s.Score < 0 {
			s.Score = 0
		}
		if s.Score > 1 {
			s.Score = 1
		}
		valid = append(valid, s)
	}

	if len(valid) == 0 {
		return nil, errorRegistry.New(ErrMalformedScores).
			WithDetail("response_preview", preview(text))
	}

	return valid, nil
}

func preview(text string) string {
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
