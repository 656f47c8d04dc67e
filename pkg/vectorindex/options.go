package vectorindex

// Options for vector index operations.
type Options struct {
	TopK            int
	IncludeValues   bool
	IncludeMetadata bool
	MinScore        float32
	Filter          *Filter
	HybridAlpha     float32
	BatchSize       int
}

type Option func(*Options)

func WithTopK(k int) Option {
	return func(o *Options) { o.TopK = k }
}

func WithIncludeValues(include bool) Option {
	return func(o *Options) { o.IncludeValues = include }
}

func WithIncludeMetadata(include bool) Option {
	return func(o *Options) { o.IncludeMetadata = include }
}

func WithMinScore(score float32) Option {
	return func(o *Options) { o.MinScore = score }
}

func WithFilter(filter *Filter) Option {
	return func(o *Options) { o.Filter = filter }
}

func WithHybridAlpha(alpha float32) Option {
	return func(o *Options) { o.HybridAlpha = alpha }
}

func WithBatchSize(size int) Option {
	return func(o *Options) { o.BatchSize = size }
}

// DefaultOptions returns the baseline option set before overrides apply.
func DefaultOptions() *Options {
	return &Options{
		TopK:            10,
		IncludeMetadata: true,
		HybridAlpha:     0.5,
		BatchSize:       100,
	}
}

func ApplyOptions(opts ...Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
