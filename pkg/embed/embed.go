// Package embed converts images into dense vector representations
// (embeddings) suitable for similarity search.
//
// An Embedder is a pure function from encoded image bytes to a
// fixed-dimension float32 vector: identical input bytes always produce the
// identical vector. Any model state is loaded once at construction and
// never mutated, so a single Embedder can serve concurrent requests.
//
// # Implementations
//
//   - [Grid] — local pixel-statistics embedder, no external service.
//   - [Remote] — OpenAI-compatible inference server hosting an image
//     embedding model (CLIP-style), reached through the /v1/embeddings API.
//   - [Cached] — decorator that memoizes embeddings by content hash.
//
// # Quick Start
//
//	e := embed.NewGrid()
//	vec, err := e.Embed(ctx, imageBytes)
package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	// Raster formats accepted for ingest and search.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Embedder converts encoded image bytes into a dense float32 vector.
type Embedder interface {
	// Embed returns the embedding vector for one image.
	// Input that does not decode as a raster image fails with an error
	// wrapping ErrDecode.
	Embed(ctx context.Context, data []byte) ([]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Common errors.
var (
	// ErrEmptyInput is returned when the input is empty.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrDecode is returned when the input bytes are not a valid image.
	ErrDecode = errors.New("embed: invalid image")
)

// Decode decodes image bytes into an image.Image and its format name
// ("jpeg", "png", "gif"). Failures wrap ErrDecode.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyInput
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// Sniff reports the image format of data without a full decode.
// Failures wrap ErrDecode.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return format, nil
}
