package index

import (
	"context"
	"fmt"
)

// DeleteItem removes the item's vector point and its stored image file.
//
// The vector deletion runs first so the item immediately stops appearing
// in search results; a file deletion failure afterwards leaves an orphan
// file (logged, accepted leak). An unknown identifier fails with
// ErrNotFound before anything is touched.
func (m *Manager) DeleteItem(ctx context.Context, itemID string) error {
	if itemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalidInput)
	}

	payloads, err := m.vec.DeleteByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("index: delete item %s: %w", itemID, err)
	}
	if len(payloads) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}

	for _, p := range payloads {
		if p.ImagePath == "" {
			continue
		}
		if err := m.files.Delete(ctx, p.ImagePath); err != nil {
			m.logger.Warn("orphan file left after item delete",
				"item_id", itemID, "path", p.ImagePath, "error", err)
		}
	}

	m.logger.Info("item deleted", "item_id", itemID, "points", len(payloads))
	return nil
}

// DeleteAll wipes the vector index and then the blob store, returning the
// number of files removed. A partial failure leaves a non-corrupting
// state: the next DeleteAll retries cleanly.
func (m *Manager) DeleteAll(ctx context.Context) (int, error) {
	if err := m.vec.DeleteAll(ctx); err != nil {
		return 0, fmt.Errorf("index: delete all points: %w", err)
	}
	n, err := m.files.DeleteAll(ctx)
	if err != nil {
		return n, fmt.Errorf("index: delete all files: %w", err)
	}
	m.logger.Info("index wiped", "files_deleted", n)
	return n, nil
}
