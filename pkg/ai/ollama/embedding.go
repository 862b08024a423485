package ollama

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"

	"github.com/ollama/ollama/api"
)

const op = "embeddings.ollama"

// GenerateEmbeddings embeds all inputs with one /api/embed call.
func (c *EmbeddingClient) GenerateEmbeddings(
	ctx context.Context,
	inputs []string,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.model,
		Input: inputs,
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		Requests:    1,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if err := ai.CheckVectors(len(inputs), res.Embeddings); err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// Probe embeds a single short string.
func (c *EmbeddingClient) Probe(ctx context.Context) error {
	if _, err := c.GenerateEmbeddings(ctx, []string{"ping"}); err != nil {
		if ingesterr.IsKind(err, ingesterr.KindConfig) {
			return err
		}
		return ingesterr.New(ingesterr.KindConnectivity, "preflight.provider", err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ingesterr.Newf(ingesterr.KindConnectivity, op, "request timed out")
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ingesterr.Permanentf(ingesterr.KindConfig, op, "server rejected credentials: %w", err)
		case http.StatusBadRequest, http.StatusNotFound:
			// unknown model or malformed input
			return ingesterr.Permanentf(ingesterr.KindProvider, op, "server rejected request: %w", err)
		}
		return ingesterr.New(ingesterr.KindProvider, op, err)
	}
	return ingesterr.New(ingesterr.KindConnectivity, op, err)
}
