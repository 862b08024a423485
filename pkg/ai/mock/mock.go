// Package mock provides a deterministic embedding client for tests and for
// local runs without network access.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/OFFIS-RIT/simgraph/pkg/ai"
)

// EmbeddingClient returns vectors derived from a hash of the text, so the
// same text always yields the same unit-length vector.
type EmbeddingClient struct {
	model      string
	dimensions int

	mu      sync.Mutex
	calls   int
	inputs  [][]string
	metrics ai.ModelMetrics
}

func NewEmbeddingClient(model string, dimensions int) *EmbeddingClient {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &EmbeddingClient{model: model, dimensions: dimensions}
}

func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls++
	c.inputs = append(c.inputs, append([]string(nil), inputs...))
	c.metrics.Add(ai.ModelMetrics{Requests: 1, InputTokens: len(inputs), TotalTokens: len(inputs)})
	c.mu.Unlock()

	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = Vector(text, c.dimensions)
	}
	return out, nil
}

func (c *EmbeddingClient) Probe(ctx context.Context) error {
	return ctx.Err()
}

func (c *EmbeddingClient) Model() string {
	return c.model
}

func (c *EmbeddingClient) GetMetrics() ai.ModelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *EmbeddingClient) ResetMetrics() {
	c.mu.Lock()
	c.metrics = ai.ModelMetrics{}
	c.mu.Unlock()
}

// Calls returns how many GenerateEmbeddings calls were made.
func (c *EmbeddingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Inputs returns the texts of every call, in call order.
func (c *EmbeddingClient) Inputs() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.inputs))
	copy(out, c.inputs)
	return out
}

// Vector is the deterministic embedding of text.
func Vector(text string, dimensions int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64()%100003) + 1

	emb := make([]float32, dimensions)
	var sum float64
	for i := range emb {
		v := math.Sin(seed*float64(i+1))*0.1 + 0.01
		emb[i] = float32(v)
		sum += v * v
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb
}
