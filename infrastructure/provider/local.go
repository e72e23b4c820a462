package provider

import (
	"context"
	"hash/fnv"
	"io"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/helixml/memkit/domain/memory"
)

// LocalDimensions is the vector dimension of the local provider.
const LocalDimensions = 512

// LocalProvider generates deterministic embeddings from a hashed TF-IDF over
// a running vocabulary. It needs no credentials or network access, at the
// cost of much weaker semantics than a learned model. Document frequencies
// accumulate across the provider's lifetime, so the same text can embed
// differently as the corpus grows.
type LocalProvider struct {
	dimensions int

	mu       sync.Mutex
	docCount int
	docFreq  map[string]int
}

// NewLocalProvider creates a local TF-IDF embedding provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		dimensions: LocalDimensions,
		docFreq:    make(map[string]int),
	}
}

// Dimensions returns the vector dimension.
func (p *LocalProvider) Dimensions() int {
	return p.dimensions
}

// Embed generates the embedding for a single text, updating the vocabulary
// with the text's tokens.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embedOne(text), nil
}

// EmbedBatch generates embeddings for the given texts in order. Each text
// updates the vocabulary before the next is embedded.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float64 {
	tokens := tokenize(text)

	termFreq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		termFreq[tok]++
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.docCount++
	for tok := range termFreq {
		p.docFreq[tok]++
	}

	vec := make([]float64, p.dimensions)
	for tok, count := range termFreq {
		idf := idf(p.docCount, p.docFreq[tok])
		tf := float64(count) / float64(len(tokens))
		vec[p.bucket(tok)] += tf * idf
	}
	return normalize(vec)
}

func (p *LocalProvider) bucket(token string) int {
	h := fnv.New32a()
	_, _ = io.WriteString(h, token)
	return int(h.Sum32() % uint32(p.dimensions))
}

// idf computes smoothed inverse document frequency: ln((N+1)/(df+1)) + 1.
func idf(docCount, docFreq int) float64 {
	return math.Log(float64(docCount+1)/float64(docFreq+1)) + 1
}

// tokenize lowercases the text and splits on non-alphanumeric runes. Text
// with no alphanumeric content falls back to a single token of the raw text
// so every document still maps to a unit vector.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return []string{text}
	}
	return tokens
}

var _ memory.Embedder = (*LocalProvider)(nil)

