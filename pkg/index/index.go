// Package index coordinates the embedder, the blob store, and the vector
// index into the reverse image search pipeline: ingest, search, delete.
//
// The [Manager] owns the referential consistency between the two stores:
// every point in the vector index references an image file that exists in
// the blob store. The two writes are not transactional; the failure modes
// that can leave an orphan file are documented on [Manager.Ingest] and
// [Manager.DeleteItem].
package index

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/haivivi/picseek/pkg/embed"
	"github.com/haivivi/picseek/pkg/storage"
	"github.com/haivivi/picseek/pkg/vecstore"
)

// DefaultTopK is the number of search results returned when the request
// does not specify one.
const DefaultTopK = 5

// Config configures a new [Manager].
type Config struct {
	// Embedder converts images to vectors. Required.
	Embedder embed.Embedder

	// Vec is the vector index holding one point per item. Required.
	Vec vecstore.Index

	// Files is the blob store keeping the original image bytes. Required.
	Files storage.FileStore

	// HTTPClient fetches images given by URL. Optional; defaults to a
	// client with a 10 second timeout.
	HTTPClient *http.Client

	// Logger receives operational logs. Optional; defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Manager implements the indexing and search pipeline on top of the three
// collaborating stores. It holds no mutable state of its own and is safe
// for concurrent use.
type Manager struct {
	embedder embed.Embedder
	vec      vecstore.Index
	files    storage.FileStore
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Manager with the given configuration.
func New(cfg Config) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		embedder: cfg.Embedder,
		vec:      cfg.Vec,
		files:    cfg.Files,
		client:   client,
		logger:   logger,
	}
}

// IngestRequest describes one item to index.
type IngestRequest struct {
	// ItemID is the externally supplied identifier. Required; must not
	// already be indexed.
	ItemID string

	// ItemName is an optional display name, stored as metadata only.
	ItemName string

	// ItemCode is an optional opaque code, stored as metadata only.
	ItemCode string

	// Image is the image source: exactly one of bytes or URL.
	Image Source
}

// IngestResult reports a successful ingest.
type IngestResult struct {
	ItemID     string `json:"item_id"`
	StoredPath string `json:"stored_path"`
}

// SearchRequest describes one similarity query.
type SearchRequest struct {
	// TopK caps the number of results. Zero means DefaultTopK.
	TopK int

	// Image is the query image source: exactly one of bytes or URL.
	Image Source
}

// Result is one search match.
type Result struct {
	ItemID     string  `json:"item_id"`
	Score      float32 `json:"score"`
	ItemName   string  `json:"item_name,omitempty"`
	ItemCode   string  `json:"item_code,omitempty"`
	StoredPath string  `json:"stored_path,omitempty"`
}
