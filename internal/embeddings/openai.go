package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// BaseURL defaults to the OpenAI API when empty.
	BaseURL string

	// Model, e.g. text-embedding-3-small
	Model string

	APIKey    string
	Dimension int
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.APIKey == "" && c.BaseURL == "" {
		return fmt.Errorf("%w: api key required for the OpenAI API", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// OpenAI generates embeddings through langchaingo's OpenAI client.
type OpenAI struct {
	embedder *lcembeddings.EmbedderImpl
	config   OpenAIConfig
	metrics  *Metrics
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embeddings provider.
func NewOpenAI(config OpenAIConfig, logger *zap.Logger) (*OpenAI, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; self-hosted compatible servers ignore it
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithEmbeddingModel(config.Model),
		openai.WithToken(apiKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAI{
		embedder: embedder,
		config:   config,
		metrics:  NewMetrics(logger),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (o *OpenAI) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		o.metrics.RecordGeneration(ctx, "openai", o.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err = o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (o *OpenAI) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		o.metrics.RecordGeneration(ctx, "openai", o.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err = o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the configured dimension.
func (o *OpenAI) Dimension() int { return o.config.Dimension }

// Close is a no-op.
func (o *OpenAI) Close() error { return nil }
