package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDeterministicDimension is used when no dimension is configured.
const DefaultDeterministicDimension = 512

// Deterministic embeds text by hashing lowercase words into buckets.
// Identical text always yields identical vectors and texts that share
// words land close together, which is enough for tests and for
// keyword-ish search without a model.
type Deterministic struct {
	dim int
}

var _ Provider = (*Deterministic)(nil)

// NewDeterministic creates a Deterministic embedder. dim <= 0 selects the default.
func NewDeterministic(dim int) (*Deterministic, error) {
	if dim <= 0 {
		dim = DefaultDeterministicDimension
	}
	if dim < 8 {
		return nil, fmt.Errorf("%w: dimension must be at least 8, got %d", ErrInvalidConfig, dim)
	}
	return &Deterministic{dim: dim}, nil
}

func (d *Deterministic) embed(text string) []float32 {
	vec := make([]float32, d.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint64(d.dim)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// no words: a fixed unit vector keeps cosine similarity defined
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// EmbedDocuments embeds each text.
func (d *Deterministic) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds a single query.
func (d *Deterministic) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.embed(text), nil
}

// Dimension returns the configured dimension.
func (d *Deterministic) Dimension() int { return d.dim }

// Close is a no-op.
func (d *Deterministic) Close() error { return nil }
