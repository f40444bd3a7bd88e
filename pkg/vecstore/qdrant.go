package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultQdrantURL is the default Qdrant server address.
	DefaultQdrantURL = "http://localhost:6333"

	// DefaultCollection is the default collection name.
	DefaultCollection = "items"

	qdrantDefaultMaxRetries = 3
	qdrantBaseBackoff       = 500 * time.Millisecond
)

// QdrantOptions configures a Qdrant-backed index.
type QdrantOptions struct {
	// URL is the Qdrant server base URL. Defaults to DefaultQdrantURL.
	URL string

	// APIKey is sent in the api-key header when non-empty.
	APIKey string

	// Collection is the collection name. Defaults to DefaultCollection.
	Collection string

	// Dimension is the vector dimension the collection is created with.
	// Required; must match the embedder's output dimension.
	Dimension int

	// HTTPClient overrides the HTTP client. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retries for retryable failures
	// (HTTP 429, 5xx, network errors). Defaults to 3.
	MaxRetries int
}

// Qdrant implements [Index] against a Qdrant server over its REST API.
//
// Point IDs are UUIDv5 values derived from the item identifier, so a
// given item always maps to the same point. Insert serializes the
// existence check and upsert per item identifier within this process;
// across replicas a lost race degrades to an overwrite of the same point,
// never to duplicate points for one identifier.
type Qdrant struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	dim        int
	maxRetries int
	backoff    time.Duration

	// locks stripes per-item serialization of Insert.
	locks [64]sync.Mutex
}

var _ Index = (*Qdrant)(nil)

// NewQdrant creates a Qdrant-backed index. Call Ensure before first use.
func NewQdrant(opts QdrantOptions) (*Qdrant, error) {
	if opts.Dimension <= 0 {
		return nil, errors.New("vecstore: QdrantOptions.Dimension is required")
	}
	if opts.URL == "" {
		opts.URL = DefaultQdrantURL
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = qdrantDefaultMaxRetries
	}
	return &Qdrant{
		client:     opts.HTTPClient,
		baseURL:    opts.URL,
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dim:        opts.Dimension,
		maxRetries: opts.MaxRetries,
		backoff:    qdrantBaseBackoff,
	}, nil
}

// Error represents a Qdrant API error.
type Error struct {
	// HTTPStatus is the HTTP status code of the response.
	HTTPStatus int

	// Message is the error description reported by the server.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("vecstore: qdrant: %s (http=%d)", e.Message, e.HTTPStatus)
}

// IsNotFound reports whether the server answered 404.
func (e *Error) IsNotFound() bool {
	return e.HTTPStatus == http.StatusNotFound
}

// Retryable reports whether the request can be retried.
func (e *Error) Retryable() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500
}

// AsError extracts *Error from an error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Ensure creates the collection with the configured dimension and cosine
// distance if it does not exist. An existing collection with a different
// dimension fails with ErrDimensionMismatch; the operator must drop the
// collection before the service can run (no automatic migration).
func (q *Qdrant) Ensure(ctx context.Context) error {
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := q.request(ctx, http.MethodGet, "/collections/"+q.collection, nil, &info)
	if err == nil {
		if got := info.Config.Params.Vectors.Size; got != q.dim {
			return fmt.Errorf("%w: collection %q has dimension %d, embedder produces %d",
				ErrDimensionMismatch, q.collection, got, q.dim)
		}
		return nil
	}
	if apiErr, ok := AsError(err); !ok || !apiErr.IsNotFound() {
		return err
	}
	return q.createCollection(ctx)
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dim,
			"distance": "Cosine",
		},
	}
	return q.request(ctx, http.MethodPut, "/collections/"+q.collection, body, nil)
}

// Exists reports whether any point carries the item identifier.
func (q *Qdrant) Exists(ctx context.Context, itemID string) (bool, error) {
	points, err := q.scrollByItemID(ctx, itemID, 1, false)
	if err != nil {
		return false, err
	}
	return len(points) > 0, nil
}

// Insert adds the vector if the item identifier is absent. The existence
// check and upsert run under a per-identifier lock, closing the
// check-then-act race for concurrent ingests of the same item.
func (q *Qdrant) Insert(ctx context.Context, itemID string, vector []float32, payload Payload) error {
	mu := q.lockFor(itemID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := q.Exists(ctx, itemID)
	if err != nil {
		return err
	}
	if ok {
		return ErrExists
	}

	body := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(itemID),
			"vector":  vector,
			"payload": payload,
		}},
	}
	return q.request(ctx, http.MethodPut, "/collections/"+q.collection+"/points?wait=true", body, nil)
}

// qdrantScored is one entry of a search response.
type qdrantScored struct {
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Search returns up to topK nearest points by cosine similarity.
func (q *Qdrant) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	var scored []qdrantScored
	err := q.request(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", body, &scored)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{
			ItemID:  s.Payload.ItemID,
			Score:   s.Score,
			Payload: s.Payload,
		}
	}
	return matches, nil
}

// DeleteByID removes every point carrying the item identifier and returns
// their payloads. An unknown identifier yields an empty result.
func (q *Qdrant) DeleteByID(ctx context.Context, itemID string) ([]Payload, error) {
	points, err := q.scrollByItemID(ctx, itemID, 100, true)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	ids := make([]string, len(points))
	payloads := make([]Payload, len(points))
	for i, p := range points {
		ids[i] = p.ID
		payloads[i] = p.Payload
	}

	body := map[string]any{"points": ids}
	if err := q.request(ctx, http.MethodPost, "/collections/"+q.collection+"/points/delete?wait=true", body, nil); err != nil {
		return nil, err
	}
	return payloads, nil
}

// DeleteAll drops and recreates the collection, which is the cheapest way
// to wipe every point while keeping the dimension and metric fixed.
func (q *Qdrant) DeleteAll(ctx context.Context) error {
	err := q.request(ctx, http.MethodDelete, "/collections/"+q.collection, nil, nil)
	if err != nil {
		if apiErr, ok := AsError(err); !ok || !apiErr.IsNotFound() {
			return err
		}
	}
	return q.createCollection(ctx)
}

// Close releases nothing: the client holds no connections beyond the
// HTTP client's pool.
func (q *Qdrant) Close() error {
	return nil
}

// pointID derives the deterministic point UUID for an item identifier.
func pointID(itemID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("picseek:item:"+itemID)).String()
}

// lockFor returns the stripe lock for an item identifier.
func (q *Qdrant) lockFor(itemID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(itemID))
	return &q.locks[h.Sum32()%uint32(len(q.locks))]
}

// qdrantPoint is one entry of a scroll response.
type qdrantPoint struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload"`
}

// scrollByItemID fetches points whose payload carries the item identifier.
func (q *Qdrant) scrollByItemID(ctx context.Context, itemID string, limit int, withPayload bool) ([]qdrantPoint, error) {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   "item_id",
				"match": map[string]any{"value": itemID},
			}},
		},
		"limit":        limit,
		"with_payload": withPayload,
		"with_vector":  false,
	}
	var result struct {
		Points []qdrantPoint `json:"points"`
	}
	err := q.request(ctx, http.MethodPost, "/collections/"+q.collection+"/points/scroll", body, &result)
	if err != nil {
		return nil, err
	}
	return result.Points, nil
}

// request makes an HTTP request to the Qdrant API with bounded retries.
// Retryable failures (HTTP 429, 5xx, network errors) back off
// exponentially; everything else is returned immediately.
func (q *Qdrant) request(ctx context.Context, method, path string, body, result any) error {
	var bodyData []byte
	if body != nil {
		var err error
		bodyData, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("vecstore: marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.backoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := q.doRequest(ctx, method, path, bodyData, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if apiErr, ok := AsError(err); ok && !apiErr.Retryable() {
			return err
		}
		// API errors classified retryable and plain network errors both
		// fall through to the next attempt.
	}
	return lastErr
}

// doRequest performs a single HTTP request and decodes the response
// envelope's result field into result (when non-nil).
func (q *Qdrant) doRequest(ctx context.Context, method, path string, bodyData []byte, result any) error {
	var bodyReader io.Reader
	if bodyData != nil {
		bodyReader = bytes.NewReader(bodyData)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("vecstore: create request: %w", err)
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	if bodyData != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("vecstore: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vecstore: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseQdrantError(respBody, resp.StatusCode)
	}

	if result != nil {
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("vecstore: unmarshal response envelope: %w", err)
		}
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("vecstore: unmarshal result: %w", err)
		}
	}
	return nil
}

// parseQdrantError builds an *Error from a non-2xx response body.
func parseQdrantError(body []byte, httpStatus int) error {
	var envelope struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Status.Error != "" {
		return &Error{HTTPStatus: httpStatus, Message: envelope.Status.Error}
	}
	return &Error{HTTPStatus: httpStatus, Message: string(body)}
}
