package openai

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 60 * time.Second

// EmbeddingClient implements ai.EmbeddingClient against the OpenAI
// embeddings API or any server speaking the same protocol.
//
// The SDK's own retries are disabled; retrying is the caller's decision.
type EmbeddingClient struct {
	model      string
	dimensions int
	timeout    time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *openai.Client
}

// NewEmbeddingClientParams defines the configuration for NewEmbeddingClient.
//
// BaseURL is optional and defaults to the public OpenAI endpoint.
// Dimensions, when > 0, asks the model for shortened vectors.
// MaxConcurrentRequests caps in-flight requests and defaults to 1.
type NewEmbeddingClientParams struct {
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration

	MaxConcurrentRequests int64
}

// NewEmbeddingClient creates an OpenAI embedding client.
//
// Example:
//
//	client := openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
//		Model:  "text-embedding-3-small",
//		APIKey: os.Getenv("OPENAI_API_KEY"),
//	})
//	vectors, err := client.GenerateEmbeddings(ctx, []string{"graph rag"})
func NewEmbeddingClient(params NewEmbeddingClientParams) *EmbeddingClient {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := params.MaxConcurrentRequests
	if concurrency <= 0 {
		concurrency = 1
	}

	return &EmbeddingClient{
		model:      params.Model,
		dimensions: params.Dimensions,
		timeout:    timeout,

		reqLock: semaphore.NewWeighted(concurrency),

		Client: newOpenaiClient(params.BaseURL, params.APIKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func (c *EmbeddingClient) Model() string {
	return c.model
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *EmbeddingClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the metrics accumulated since the last reset.
func (c *EmbeddingClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *EmbeddingClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}
