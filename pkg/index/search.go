package index

import (
	"context"
	"fmt"
)

// Search embeds the query image and returns up to TopK indexed items
// ordered by descending cosine similarity. An empty index yields an empty
// result. Search never mutates state.
func (m *Manager) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidInput)
	}

	data, _, err := m.resolve(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	vector, err := m.embedder.Embed(ctx, data)
	if err != nil {
		return nil, err
	}

	matches, err := m.vec.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	results := make([]Result, len(matches))
	for i, match := range matches {
		results[i] = Result{
			ItemID:     match.ItemID,
			Score:      match.Score,
			ItemName:   match.Payload.ItemName,
			ItemCode:   match.Payload.ItemCode,
			StoredPath: match.Payload.ImagePath,
		}
	}
	return results, nil
}
