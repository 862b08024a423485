package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 60 * time.Second

// EmbeddingClient implements ai.EmbeddingClient using an Ollama server.
type EmbeddingClient struct {
	model   string
	timeout time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewEmbeddingClientParams contains configuration options for creating a new
// EmbeddingClient. An empty BaseURL uses the default Ollama host. APIKey is
// sent as a bearer token when set, for servers behind an auth proxy.
type NewEmbeddingClientParams struct {
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewEmbeddingClient creates a new Ollama embedding client.
func NewEmbeddingClient(
	params NewEmbeddingClientParams,
) (*EmbeddingClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "127.0.0.1:11434"}
	}

	headers := map[string]string{}
	if params.APIKey != "" {
		headers["Authorization"] = "Bearer " + params.APIKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := params.MaxConcurrentRequests
	if concurrency <= 0 {
		concurrency = 1
	}

	return &EmbeddingClient{
		model:   params.Model,
		timeout: timeout,

		reqLock: semaphore.NewWeighted(concurrency),

		Client: api.NewClient(u, httpClient),
	}, nil
}

func (c *EmbeddingClient) Model() string {
	return c.model
}
