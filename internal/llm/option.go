package llm

import (
	"net/http"
	"time"
)

const URLOpenAI = "https://api.openai.com"

type ClientOption func(*Client) error

func WithBaseURL(url string) ClientOption {
	return func(c *Client) error {
		if url == "" {
			return ErrInvalidBaseURL
		}
		c.baseURL = url
		return nil
	}
}

func WithAPIKey(key string) ClientOption {
	return func(c *Client) error {
		if key == "" {
			return ErrNoAPIKey
		}
		c.apiKey = key
		return nil
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) error {
		c.model = model
		return nil
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			c.httpClient = http.DefaultClient
			return nil
		}
		c.httpClient = client
		return nil
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

func WithMaxRetries(n int) ClientOption {
	return func(c *Client) error {
		c.maxRetries = n
		return nil
	}
}

// WithBatchMax caps how many inputs are sent per embeddings request.
// EmbedBatch chunks larger slices internally.
func WithBatchMax(n int) ClientOption {
	return func(c *Client) error {
		if n > 0 {
			c.batchMax = n
		}
		return nil
	}
}

func WithRetryWait(minWait, maxWait time.Duration) ClientOption {
	return func(c *Client) error {
		c.retryWaitMin = minWait
		c.retryWaitMax = maxWait
		return nil
	}
}
