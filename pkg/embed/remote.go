package embed

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	remoteDefaultBaseURL = "http://localhost:7997/v1"
	remoteDefaultModel   = "clip-ViT-B-32"
	remoteDefaultDim     = 512
)

// Remote implements [Embedder] using an OpenAI-compatible inference server
// that hosts an image embedding model (Infinity, vLLM, and similar servers
// accept base64 data URLs through the /v1/embeddings endpoint).
//
// The model is loaded by the server once and shared across requests; the
// client holds no mutable state and is safe for concurrent use.
type Remote struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*Remote)(nil)

// NewRemote creates a Remote embedder.
//
// The apiKey may be empty for servers that do not check authentication.
// WithDimension must match the dimension the served model produces; the
// vector index collection is created with this dimension.
func NewRemote(apiKey string, opts ...Option) *Remote {
	cfg := config{
		model:      remoteDefaultModel,
		dim:        remoteDefaultDim,
		baseURL:    remoteDefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
	)

	return &Remote{
		client: &client,
		model:  cfg.model,
		dim:    cfg.dim,
	}
}

// Dimension returns the configured vector dimensionality.
func (r *Remote) Dimension() int {
	return r.dim
}

// Model returns the served model identifier.
func (r *Remote) Model() string {
	return r.model
}

// Embed sends the image as a base64 data URL and returns its embedding.
// The bytes are decoded locally first so that invalid input fails with
// ErrDecode before any network round trip.
func (r *Remote) Embed(ctx context.Context, data []byte) ([]float32, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, err
	}

	dataURL := fmt.Sprintf("data:image/%s;base64,%s",
		format, base64.StdEncoding.EncodeToString(data))

	params := openai.EmbeddingNewParams{
		Model:          r.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(dataURL)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	resp, err := r.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embed: remote: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("embed: remote: expected 1 embedding, got %d", len(resp.Data))
	}

	vec := float64sToFloat32s(resp.Data[0].Embedding)
	if len(vec) != r.dim {
		return nil, fmt.Errorf("embed: remote: server returned dimension %d, configured %d", len(vec), r.dim)
	}
	return vec, nil
}

// float64sToFloat32s converts a []float64 to []float32.
func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
