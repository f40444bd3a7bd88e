// Package vecstore provides the vector similarity index behind reverse
// image search.
//
// The [Index] interface defines the contract for storing one embedding per
// item and answering nearest-neighbor queries by cosine similarity.
// Implementations include an in-memory brute-force index for testing
// ([NewMemory]) and a client for a Qdrant server ([NewQdrant]) for
// production use.
//
// Insert is insert-if-absent: an item identifier can hold at most one
// point at a time, and a second Insert for the same identifier fails with
// [ErrExists] without touching the stored point. This is the atomicity
// boundary that makes the ingest uniqueness check race-free.
package vecstore

import (
	"context"
	"errors"
	"math"
)

// Sentinel errors.
var (
	// ErrExists is returned by Insert when the item identifier already
	// holds a point in the index.
	ErrExists = errors.New("vecstore: item already exists")

	// ErrDimensionMismatch is returned by Ensure when the collection
	// exists with a different vector dimension. This is a fatal startup
	// condition: the operator must drop the collection (or reconfigure
	// the embedder) before the service can run.
	ErrDimensionMismatch = errors.New("vecstore: collection dimension mismatch")
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	// ItemID is the externally supplied item identifier. Unique across
	// the index.
	ItemID string `json:"item_id"`

	// ItemName is an optional display name. Not used for search.
	ItemName string `json:"item_name,omitempty"`

	// ItemCode is an optional opaque code. Not used for search.
	ItemCode string `json:"item_code,omitempty"`

	// ImagePath is the blob-store path of the stored image file.
	ImagePath string `json:"image_path,omitempty"`

	// SourceURL records where the image was fetched from, if it was
	// ingested by URL.
	SourceURL string `json:"source_url,omitempty"`
}

// Match is a single result from a similarity search.
type Match struct {
	// ItemID is the identifier of the matched item.
	ItemID string

	// Score is the cosine similarity between the query and the matched
	// vector. Higher values indicate closer matches; identical inputs
	// score near 1.
	Score float32

	// Payload is the metadata stored with the matched point.
	Payload Payload
}

// Index is the interface for similarity search over dense float32 vectors,
// one vector per item identifier.
//
// All implementations must be safe for concurrent use.
type Index interface {
	// Ensure creates the backing collection if it does not exist.
	// If a collection exists with a different vector dimension, Ensure
	// fails with ErrDimensionMismatch.
	Ensure(ctx context.Context) error

	// Exists reports whether the item identifier holds a point.
	Exists(ctx context.Context, itemID string) (bool, error)

	// Insert adds a vector with its payload if the item identifier is
	// absent, and fails with ErrExists otherwise. The check and the write
	// are atomic with respect to concurrent Inserts for the same
	// identifier.
	Insert(ctx context.Context, itemID string, vector []float32, payload Payload) error

	// Search returns up to topK matches ordered by descending cosine
	// similarity. An empty index yields an empty result, not an error.
	Search(ctx context.Context, query []float32, topK int) ([]Match, error)

	// DeleteByID removes every point held by the item identifier and
	// returns the payloads of the removed points. An unknown identifier
	// yields an empty slice and no error; the caller decides whether
	// that is a not-found condition.
	DeleteByID(ctx context.Context, itemID string) ([]Payload, error)

	// DeleteAll removes every point in the collection.
	DeleteAll(ctx context.Context) error

	// Close releases resources held by the index.
	Close() error
}

// CosineSimilarity computes the cosine similarity between two vectors,
// clamped to [-1, 1]. Mismatched lengths or zero-norm vectors yield -1
// (no meaningful direction, treat as maximally distant).
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return -1
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to handle floating point errors.
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return float32(sim)
}
