package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"

	"github.com/openai/openai-go/v3"
)

const op = "embeddings.openai"

// GenerateEmbeddings embeds all inputs in a single request. The returned
// vectors are in input order.
func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: c.model,
	}
	if c.dimensions > 0 {
		body.Dimensions = openai.Int(int64(c.dimensions))
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.Client.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, classify(ctx, err, c.timeout)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		Requests:    1,
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(inputs) {
		return nil, ingesterr.Permanentf(ingesterr.KindProvider, op, "embedding count mismatch: got %d want %d", len(response.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(inputs) || out[dataIdx] != nil {
			return nil, ingesterr.Permanentf(ingesterr.KindProvider, op, "embedding index out of range or repeated: %d", embedding.Index)
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		out[dataIdx] = vec
	}
	if err := ai.CheckVectors(len(inputs), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Probe embeds a single short string.
func (c *EmbeddingClient) Probe(ctx context.Context) error {
	_, err := c.GenerateEmbeddings(ctx, []string{"ping"})
	if err != nil {
		if ingesterr.IsKind(err, ingesterr.KindConfig) {
			return err
		}
		return ingesterr.New(ingesterr.KindConnectivity, "preflight.provider", err)
	}
	return nil
}

// classify maps SDK errors onto error kinds. Authentication failures and bad
// requests will not succeed on retry. A per-request timeout is a transport
// failure and stays retryable as long as the caller's context is alive.
func classify(ctx context.Context, err error, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ingesterr.Newf(ingesterr.KindConnectivity, op, "request timed out after %s", timeout)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ingesterr.Permanentf(ingesterr.KindConfig, op, "provider rejected credentials: %w", err)
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return ingesterr.Permanentf(ingesterr.KindProvider, op, "provider rejected request: %w", err)
		}
		return ingesterr.New(ingesterr.KindProvider, op, err)
	}
	return ingesterr.New(ingesterr.KindConnectivity, op, err)
}
