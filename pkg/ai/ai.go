package ai

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
)

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add accumulates m into the receiver and recomputes the throughput.
func (mm *ModelMetrics) Add(m ModelMetrics) {
	mm.InputTokens += m.InputTokens
	mm.TotalTokens += m.TotalTokens
	mm.Requests += m.Requests
	mm.DurationMs += m.DurationMs
	if mm.DurationMs > 0 {
		tps := (float64(mm.TotalTokens) * 1000.0) / float64(mm.DurationMs)
		mm.TokenPerSecond = float32(int(tps*100)) / 100
	}
}

// EmbeddingClient is an embedding provider reached over the network.
//
// GenerateEmbeddings returns exactly one vector per input, in input order.
// Implementations report a response with the wrong number of vectors as a
// permanent ingesterr.KindProvider error and every other failure as a
// retryable one.
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
	// Probe performs a single cheap live request to check reachability and
	// credentials.
	Probe(ctx context.Context) error
	Model() string

	GetMetrics() ModelMetrics
	ResetMetrics()
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// ValidateCredential checks the shape of the provider credentials without
// contacting the provider.
func ValidateCredential(provider, apiKey, baseURL string) error {
	const op = "preflight.credentials"

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ingesterr.Newf(ingesterr.KindConfig, op, "invalid %s base url %q", provider, baseURL)
		}
	}

	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return ingesterr.Newf(ingesterr.KindConfig, op, "OPENAI_API_KEY is not set")
		}
		if strings.IndexFunc(apiKey, unicode.IsSpace) >= 0 {
			return ingesterr.Newf(ingesterr.KindConfig, op, "openai api key contains whitespace")
		}
		if !strings.HasPrefix(apiKey, "sk-") || len(apiKey) < 20 {
			return ingesterr.Newf(ingesterr.KindConfig, op, "openai api key has an unexpected format")
		}
	case ProviderOllama:
		if strings.IndexFunc(apiKey, unicode.IsSpace) >= 0 {
			return ingesterr.Newf(ingesterr.KindConfig, op, "ollama api key contains whitespace")
		}
	case ProviderMock:
	default:
		return ingesterr.Newf(ingesterr.KindConfig, op, "unknown embedding provider %q", provider)
	}
	return nil
}

// CheckVectors validates a provider response against the request. A count
// mismatch is permanent. Empty vectors, NaN or Inf values and an
// inconsistent dimension are retryable.
func CheckVectors(want int, vectors [][]float32) error {
	const op = "embeddings.response"
	if len(vectors) != want {
		return ingesterr.Permanentf(ingesterr.KindProvider, op, "embedding count mismatch: got %d want %d", len(vectors), want)
	}
	dim := -1
	for i, v := range vectors {
		if len(v) == 0 {
			return ingesterr.Newf(ingesterr.KindProvider, op, "empty embedding at index %d", i)
		}
		for j, x := range v {
			if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
				return ingesterr.Newf(ingesterr.KindProvider, op, "non-finite value %v at index %d[%d]", x, i, j)
			}
		}
		if dim == -1 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return ingesterr.New(ingesterr.KindProvider, op, fmt.Errorf("inconsistent embedding dimension at index %d: got %d want %d", i, len(v), dim))
		}
	}
	return nil
}
