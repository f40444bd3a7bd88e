package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/haivivi/picseek/pkg/embed"
	"github.com/haivivi/picseek/pkg/storage"
	"github.com/haivivi/picseek/pkg/vecstore"
)

// Ingest indexes one image under the item identifier.
//
// The pipeline resolves the image bytes, rejects duplicates, computes the
// embedding, persists the original bytes, and inserts the vector point.
// Input errors (ErrInvalidInput, embed.ErrDecode, ErrFetch) and
// duplicates caught by the pre-embedding probe (ErrConflict) mutate
// nothing. The file write and the point insert are not one transaction:
// if the insert fails after the file was written — a lost uniqueness
// race or an infrastructure failure — the file stays behind as a
// documented orphan, to be reconciled out of band. Every indexed point
// always references an existing file; the reverse does not hold after
// such a failure.
func (m *Manager) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.ItemID == "" {
		return nil, fmt.Errorf("%w: item_id is required", ErrInvalidInput)
	}

	data, sourceURL, err := m.resolve(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	format, err := embed.Sniff(data)
	if err != nil {
		return nil, err
	}

	// Cheap duplicate probe before the embedding is computed. The
	// authoritative uniqueness gate is the insert-if-absent below; this
	// only avoids wasted work for the common duplicate case.
	if ok, err := m.vec.Exists(ctx, req.ItemID); err != nil {
		return nil, fmt.Errorf("index: check item %s: %w", req.ItemID, err)
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, req.ItemID)
	}

	vector, err := m.embedder.Embed(ctx, data)
	if err != nil {
		return nil, err
	}

	path := itemPath(req.ItemID, data, format)
	if err := storage.WriteAll(ctx, m.files, path, data); err != nil {
		return nil, fmt.Errorf("index: write image %s: %w", path, err)
	}

	payload := vecstore.Payload{
		ItemID:    req.ItemID,
		ItemName:  req.ItemName,
		ItemCode:  req.ItemCode,
		ImagePath: path,
		SourceURL: sourceURL,
	}
	if err := m.vec.Insert(ctx, req.ItemID, vector, payload); err != nil {
		if errors.Is(err, vecstore.ErrExists) {
			// Lost the race against a concurrent ingest of the same
			// identifier. The file just written is left in place: when the
			// winner carried the same bytes it IS the winner's file (the
			// path is content-addressed), and when it carried different
			// bytes it is a small orphan under a path no point references.
			// Deleting here could dangle the winner's point; orphans are
			// the accepted failure mode, dangling points are not.
			m.logger.Info("ingest lost uniqueness race",
				"item_id", req.ItemID, "path", path)
			return nil, fmt.Errorf("%w: %s", ErrConflict, req.ItemID)
		}
		m.logger.Warn("orphan file left after index insert failed",
			"item_id", req.ItemID, "path", path, "error", err)
		return nil, fmt.Errorf("index: insert item %s: %w", req.ItemID, err)
	}

	m.logger.Info("item indexed", "item_id", req.ItemID, "path", path)
	return &IngestResult{ItemID: req.ItemID, StoredPath: path}, nil
}
