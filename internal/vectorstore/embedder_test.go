package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// bagOfWordsEmbedder hashes words into a fixed number of buckets so that
// texts sharing words score higher than unrelated ones.
type bagOfWordsEmbedder struct {
	dim  int
	fail bool
}

func newTestEmbedder() *bagOfWordsEmbedder {
	return &bagOfWordsEmbedder{dim: 64}
}

func (e *bagOfWordsEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

func (e *bagOfWordsEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *bagOfWordsEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder unavailable")
	}
	return e.embed(text), nil
}
