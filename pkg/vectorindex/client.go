package vectorindex

import (
	"context"
	"fmt"
)

// Client provides unified access to vector index capabilities, detecting
// optional capabilities on the underlying provider via type assertion.
type Client struct {
	storer VectorStorer

	metadataFilterer MetadataFilterer
	batchProcessor   BatchProcessor
	namespaceManager NamespaceManager
	hybridSearcher   HybridSearcher
	statsProvider    StatisticsProvider
}

// NewClient wraps a provider, detecting the optional interfaces it implements.
func NewClient(storer VectorStorer) *Client {
	c := &Client{storer: storer}

	if mf, ok := storer.(MetadataFilterer); ok {
		c.metadataFilterer = mf
	}
	if bp, ok := storer.(BatchProcessor); ok {
		c.batchProcessor = bp
	}
	if nm, ok := storer.(NamespaceManager); ok {
		c.namespaceManager = nm
	}
	if hs, ok := storer.(HybridSearcher); ok {
		c.hybridSearcher = hs
	}
	if sp, ok := storer.(StatisticsProvider); ok {
		c.statsProvider = sp
	}

	return c
}

func (c *Client) EnsureCollection(ctx context.Context, key CollectionKey, dim int, metric Metric) error {
	return c.storer.EnsureCollection(ctx, key, dim, metric)
}

func (c *Client) Upsert(ctx context.Context, key CollectionKey, vectors []Vector, opts ...Option) error {
	return c.storer.Upsert(ctx, key, vectors, opts...)
}

func (c *Client) Query(ctx context.Context, key CollectionKey, vector []float32, opts ...Option) (*QueryResult, error) {
	options := ApplyOptions(opts...)
	if options.Filter != nil && c.metadataFilterer != nil {
		return c.metadataFilterer.QueryWithFilter(ctx, key, vector, *options.Filter, opts...)
	}
	return c.storer.Query(ctx, key, vector, opts...)
}

func (c *Client) Delete(ctx context.Context, key CollectionKey, ids []string, opts ...Option) error {
	return c.storer.Delete(ctx, key, ids, opts...)
}

func (c *Client) Fetch(ctx context.Context, key CollectionKey, ids []string, opts ...Option) ([]Vector, error) {
	return c.storer.Fetch(ctx, key, ids, opts...)
}

func (c *Client) Count(ctx context.Context, key CollectionKey) (int64, error) {
	return c.storer.Count(ctx, key)
}

func (c *Client) UpsertBatch(ctx context.Context, key CollectionKey, vectors []Vector, opts ...Option) (*BatchResult, error) {
	if c.batchProcessor != nil {
		return c.batchProcessor.UpsertBatch(ctx, key, vectors, opts...)
	}

	options := ApplyOptions(opts...)
	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	result := &BatchResult{}
	for i := 0; i < len(vectors); i += batchSize {
		end := min(i+batchSize, len(vectors))
		batch := vectors[i:end]
		if err := c.storer.Upsert(ctx, key, batch, opts...); err != nil {
			result.FailedCount += len(batch)
			for _, v := range batch {
				result.Errors = append(result.Errors, BatchError{ID: v.ID, Error: err.Error()})
			}
			continue
		}
		result.SuccessCount += len(batch)
	}

	return result, nil
}

func (c *Client) DeleteBatch(ctx context.Context, key CollectionKey, ids []string, opts ...Option) (*BatchResult, error) {
	if c.batchProcessor != nil {
		return c.batchProcessor.DeleteBatch(ctx, key, ids, opts...)
	}
	if err := c.storer.Delete(ctx, key, ids, opts...); err != nil {
		return &BatchResult{FailedCount: len(ids)}, err
	}
	return &BatchResult{SuccessCount: len(ids)}, nil
}

func (c *Client) ListCollections(ctx context.Context, ownerUserID string) ([]string, error) {
	if c.namespaceManager == nil {
		return nil, fmt.Errorf("collection listing not supported by this provider")
	}
	return c.namespaceManager.ListCollections(ctx, ownerUserID)
}

func (c *Client) DeleteCollection(ctx context.Context, key CollectionKey) error {
	if c.namespaceManager == nil {
		return fmt.Errorf("collection deletion not supported by this provider")
	}
	return c.namespaceManager.DeleteCollection(ctx, key)
}

func (c *Client) HybridQuery(ctx context.Context, key CollectionKey, vector []float32, query string, opts ...Option) (*QueryResult, error) {
	if c.hybridSearcher == nil {
		return nil, fmt.Errorf("hybrid search not supported by this provider")
	}
	return c.hybridSearcher.HybridQuery(ctx, key, vector, query, opts...)
}

func (c *Client) GetStatistics(ctx context.Context, key CollectionKey) (*Statistics, error) {
	if c.statsProvider == nil {
		return nil, fmt.Errorf("statistics not supported by this provider")
	}
	return c.statsProvider.GetStatistics(ctx, key)
}

func (c *Client) SupportsMetadataFiltering() bool { return c.metadataFilterer != nil }
func (c *Client) SupportsBatch() bool             { return c.batchProcessor != nil }
func (c *Client) SupportsCollections() bool       { return c.namespaceManager != nil }
func (c *Client) SupportsHybridSearch() bool      { return c.hybridSearcher != nil }
func (c *Client) SupportsStatistics() bool        { return c.statsProvider != nil }
