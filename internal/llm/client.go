// Package llm wraps the external embedding provider API. It classifies
// provider failures, retries transient ones with backoff, and trips a
// circuit breaker so a struggling provider degrades to fallback synthesis
// instead of hammering the endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/inboxkit/semdex/internal/httpclient"
	"github.com/inboxkit/semdex/internal/metrics"
)

const defaultBatchMax = 16

type Client struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	timeout      time.Duration
	maxRetries   int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	batchMax     int
	breaker      *gobreaker.CircuitBreaker
}

func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:      URLOpenAI,
		httpClient:   httpclient.New(httpclient.Config{Name: "embedding-provider"}).Client,
		timeout:      60 * time.Second,
		maxRetries:   3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 30 * time.Second,
		batchMax:     defaultBatchMax,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Fatal classes (auth, bad input) are provider verdicts, not
		// provider health: they must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
	})

	return c, nil
}

func (c *Client) Model() string {
	return c.model
}

// Embed returns the vector for a single text. Empty text is rejected
// before any HTTP call is made.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Slices
// larger than the provider batch limit are chunked into multiple requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(texts) == 0 {
		return nil, &InvalidInputError{APIError: APIError{Message: "no input texts"}}
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, &InvalidInputError{APIError: APIError{
				Message: fmt.Sprintf("empty content at input %d", i),
			}}
		}
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchMax {
		end := min(start+c.batchMax, len(texts))

		resp, err := c.embedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrNoEmbedding, end-start, len(resp.Data))
		}

		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	}

	return vectors, nil
}

func (c *Client) embedRequest(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	start := time.Now()

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doEmbedWithRetry(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &UnavailableError{Cause: err}
	}

	status := "success"
	if err != nil {
		status = "error"
		metrics.EmbeddingErrors.WithLabelValues(c.model, errorType(err)).Inc()
	}
	metrics.EmbeddingRequestDuration.WithLabelValues(c.model, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return result.(*EmbeddingResponse), nil
}

func (c *Client) doEmbedWithRetry(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &UnavailableError{Cause: ctx.Err()}
			case <-time.After(c.retryWait(attempt, lastErr)):
			}
		}

		resp, err := c.doEmbed(ctx, texts)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !isRetryableStatus(apiErr.StatusCode) {
			return nil, err
		}
		if IsUnauthorized(err) || IsInvalidInput(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, &UnavailableError{Cause: ctx.Err()}
		}
	}

	return nil, lastErr
}

func (c *Client) retryWait(attempt int, lastErr error) time.Duration {
	var rateLimitErr *RateLimitError
	if errors.As(lastErr, &rateLimitErr) && rateLimitErr.RetryAfter > 0 {
		return rateLimitErr.RetryAfter
	}

	waitTime := min(c.retryWaitMin*time.Duration(1<<attempt), c.retryWaitMax)

	// +-10% jitter
	jitter := time.Duration((rand.Float64()*2 - 1) * 0.1 * float64(waitTime))
	return waitTime + jitter
}

func (c *Client) doEmbed(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	reqBody := EmbeddingRequest{
		Model:          c.model,
		Input:          texts,
		EncodingFormat: "float",
	}

	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := strings.TrimRight(c.baseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &UnavailableError{Cause: readErr}
		}
		return nil, parseAPIError(resp.StatusCode, resp.Header, respBody)
	}

	var embeddingResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embeddingResp.Data) == 0 {
		return nil, ErrNoEmbedding
	}

	return &embeddingResp, nil
}

func errorType(err error) string {
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsInvalidInput(err):
		return "invalid_input"
	case IsUnavailable(err):
		return "unavailable"
	default:
		return "other"
	}
}
