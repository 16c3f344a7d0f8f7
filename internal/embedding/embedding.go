// Package embedding generates and compares fixed-length text embeddings.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/plateworks/reelchef/pkg/models"
)

const (
	// DefaultDim is the stored vector dimension D.
	DefaultDim = 1536
	// DefaultBatchSize bounds the number of inputs per backend call.
	DefaultBatchSize = 32
)

// Service generates embeddings through a backend and enforces the fixed
// dimension invariant: every vector leaving this package has length exactly
// Dim, zero-padded or truncated as needed.
type Service struct {
	backend   models.Backend
	dim       int
	batchSize int
}

func NewService(backend models.Backend, dim, batchSize int) *Service {
	if dim <= 0 {
		dim = DefaultDim
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{backend: backend, dim: dim, batchSize: batchSize}
}

// Dim returns the fixed vector dimension D.
func (s *Service) Dim() int { return s.dim }

// Embed generates the embedding for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in fixed-size groups to bound per-call cost.
// Output order matches input order; every vector is normalized and sized to D.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := s.backend.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch at offset %d: %w", start, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch at offset %d: got %d vectors for %d inputs", start, len(batch), end-start)
		}

		for _, vec := range batch {
			vectors = append(vectors, EnsureDim(normalize(vec), s.dim))
		}
	}
	return vectors, nil
}

// Match pairs a corpus index with its similarity to the query.
type Match struct {
	Index      int
	Similarity float64
}

// FindSimilar embeds the query once and the corpus in batches, then ranks
// corpus entries by cosine similarity descending. Ties keep original corpus
// order.
func (s *Service) FindSimilar(ctx context.Context, query string, corpus []string, topK int) ([]Match, error) {
	if topK <= 0 || len(corpus) == 0 {
		return nil, nil
	}

	queryVec, err := s.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	corpusVecs, err := s.EmbedBatch(ctx, corpus)
	if err != nil {
		return nil, fmt.Errorf("embedding corpus: %w", err)
	}

	matches := make([]Match, len(corpusVecs))
	for i, vec := range corpusVecs {
		matches[i] = Match{Index: i, Similarity: CosineSimilarity(queryVec, vec)}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

// EnsureDim returns vec resized to exactly dim: zero-padded when shorter,
// truncated when longer. The input slice is reused when already oversized.
func EnsureDim(vec []float32, dim int) []float32 {
	switch {
	case len(vec) == dim:
		return vec
	case len(vec) > dim:
		return vec[:dim]
	default:
		out := make([]float32, dim)
		copy(out, vec)
		return out
	}
}

// CosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Callers must pad or truncate to the same dimension first. A zero
// vector yields 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize scales vec to unit length. Zero vectors pass through unchanged.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
