package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxFetchBytes caps the size of images downloaded by URL.
const maxFetchBytes = 32 << 20 // 32 MiB

// Source is an image given either as raw bytes or as a URL to fetch.
// Exactly one of the fields must be set.
type Source struct {
	// Data is the encoded image bytes, as uploaded by the caller.
	Data []byte

	// URL points at an image to download.
	URL string
}

// resolve returns the image bytes for a source, downloading when given a
// URL. The returned url is non-empty only for URL sources.
func (m *Manager) resolve(ctx context.Context, src Source) (data []byte, url string, err error) {
	hasData := len(src.Data) > 0
	hasURL := src.URL != ""
	switch {
	case hasData && hasURL:
		return nil, "", fmt.Errorf("%w: provide file bytes or an image URL, not both", ErrInvalidInput)
	case !hasData && !hasURL:
		return nil, "", fmt.Errorf("%w: provide file bytes or an image URL", ErrInvalidInput)
	case hasData:
		return src.Data, "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned status %d", ErrFetch, src.URL, resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, src.URL, maxFetchBytes)
	}
	return data, src.URL, nil
}
