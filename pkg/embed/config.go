package embed

import "net/http"

// config holds shared configuration for remote embedder implementations.
type config struct {
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// Option configures a remote embedder.
type Option func(*config)

// WithModel sets the embedding model name served by the inference server.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimension sets the output vector dimensionality the server produces.
func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}
