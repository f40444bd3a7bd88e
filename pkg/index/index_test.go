package index

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haivivi/picseek/pkg/embed"
	"github.com/haivivi/picseek/pkg/storage"
	"github.com/haivivi/picseek/pkg/vecstore"
)

func testPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*5) + seed,
				G: uint8(y*5) ^ seed,
				B: uint8(x+y) + seed*3,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	mgr   *Manager
	vec   *vecstore.Memory
	files *storage.Local
	dir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	vec := vecstore.NewMemory()
	mgr := New(Config{
		Embedder: embed.NewGrid(),
		Vec:      vec,
		Files:    files,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{mgr: mgr, vec: vec, files: files, dir: dir}
}

func TestIngestAndSearchRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	img := testPNG(t, 10)
	res, err := env.mgr.Ingest(ctx, IngestRequest{
		ItemID:   "sku-1",
		ItemName: "red mug",
		ItemCode: "RM-001",
		Image:    Source{Data: img},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.ItemID != "sku-1" || res.StoredPath == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, err := storage.ReadAll(ctx, env.files, res.StoredPath)
	if err != nil {
		t.Fatalf("read stored image: %v", err)
	}
	if !bytes.Equal(stored, img) {
		t.Fatal("stored bytes differ from uploaded bytes")
	}

	if _, err := env.mgr.Ingest(ctx, IngestRequest{
		ItemID: "sku-2",
		Image:  Source{Data: testPNG(t, 200)},
	}); err != nil {
		t.Fatalf("Ingest second item: %v", err)
	}

	results, err := env.mgr.Search(ctx, SearchRequest{Image: Source{Data: img}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	top := results[0]
	if top.ItemID != "sku-1" {
		t.Fatalf("top result is %q, want sku-1", top.ItemID)
	}
	if top.Score < 0.999 {
		t.Fatalf("self-match score %v, want near 1", top.Score)
	}
	if top.ItemName != "red mug" || top.ItemCode != "RM-001" || top.StoredPath != res.StoredPath {
		t.Fatalf("metadata not round-tripped: %+v", top)
	}
	if results[1].Score > top.Score {
		t.Fatal("results not ordered by descending score")
	}
}

func TestIngestDuplicateConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := IngestRequest{ItemID: "sku-1", Image: Source{Data: testPNG(t, 1)}}
	if _, err := env.mgr.Ingest(ctx, req); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	req.Image = Source{Data: testPNG(t, 99)}
	_, err := env.mgr.Ingest(ctx, req)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	if env.vec.Len() != 1 {
		t.Fatalf("vector count = %d, want 1", env.vec.Len())
	}
	n, err := env.files.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("file count = %d, want 1", n)
	}
}

func TestIngestInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := testPNG(t, 1)

	cases := []struct {
		name string
		req  IngestRequest
		want error
	}{
		{"missing item id", IngestRequest{Image: Source{Data: img}}, ErrInvalidInput},
		{"no source", IngestRequest{ItemID: "a"}, ErrInvalidInput},
		{"both sources", IngestRequest{ItemID: "a", Image: Source{Data: img, URL: "http://x"}}, ErrInvalidInput},
		{"not an image", IngestRequest{ItemID: "a", Image: Source{Data: []byte("plain text")}}, embed.ErrDecode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.mgr.Ingest(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if env.vec.Len() != 0 {
		t.Fatalf("vector count = %d, want 0 after rejected ingests", env.vec.Len())
	}
}

func TestIngestFromURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := testPNG(t, 7)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	res, err := env.mgr.Ingest(ctx, IngestRequest{
		ItemID: "sku-url",
		Image:  Source{URL: srv.URL + "/item.png"},
	})
	if err != nil {
		t.Fatalf("Ingest by URL: %v", err)
	}
	stored, err := storage.ReadAll(ctx, env.files, res.StoredPath)
	if err != nil {
		t.Fatalf("read stored image: %v", err)
	}
	if !bytes.Equal(stored, img) {
		t.Fatal("stored bytes differ from fetched bytes")
	}

	_, err = env.mgr.Ingest(ctx, IngestRequest{
		ItemID: "sku-404",
		Image:  Source{URL: srv.URL + "/missing.png"},
	})
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("got %v, want ErrFetch", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	env := newTestEnv(t)

	results, err := env.mgr.Search(context.Background(), SearchRequest{Image: Source{Data: testPNG(t, 1)}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from empty index, want 0", len(results))
	}
}

func TestSearchTopK(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, seed := range []uint8{1, 50, 100, 150, 200, 250} {
		if _, err := env.mgr.Ingest(ctx, IngestRequest{
			ItemID: "sku-" + string(rune('a'+seed/50)),
			Image:  Source{Data: testPNG(t, seed)},
		}); err != nil {
			t.Fatalf("Ingest seed %d: %v", seed, err)
		}
	}

	results, err := env.mgr.Search(ctx, SearchRequest{TopK: 3, Image: Source{Data: testPNG(t, 1)}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if _, err := env.mgr.Search(ctx, SearchRequest{TopK: -1, Image: Source{Data: testPNG(t, 1)}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput for negative top_k", err)
	}
}

func TestDeleteItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.mgr.Ingest(ctx, IngestRequest{ItemID: "sku-1", Image: Source{Data: testPNG(t, 1)}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := env.mgr.DeleteItem(ctx, "sku-1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if env.vec.Len() != 0 {
		t.Fatal("vector point survived delete")
	}
	if ok, err := env.files.Exists(ctx, res.StoredPath); err != nil || ok {
		t.Fatalf("stored file survived delete (ok=%v err=%v)", ok, err)
	}

	if err := env.mgr.DeleteItem(ctx, "sku-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete got %v, want ErrNotFound", err)
	}
	if err := env.mgr.DeleteItem(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty id got %v, want ErrInvalidInput", err)
	}
}

func TestDeleteAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, seed := range []uint8{1, 100, 200} {
		if _, err := env.mgr.Ingest(ctx, IngestRequest{
			ItemID: "sku-" + string(rune('a'+i)),
			Image:  Source{Data: testPNG(t, seed)},
		}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	n, err := env.mgr.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d files, want 3", n)
	}
	if env.vec.Len() != 0 {
		t.Fatal("vector index not empty after DeleteAll")
	}

	results, err := env.mgr.Search(ctx, SearchRequest{Image: Source{Data: testPNG(t, 1)}})
	if err != nil {
		t.Fatalf("Search after wipe: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results after wipe, want 0", len(results))
	}
}

func TestItemPath(t *testing.T) {
	img := []byte("bytes")
	p1 := itemPath("sku/1", img, "jpeg")
	p2 := itemPath("sku_1", img, "jpeg")
	if p1 == p2 {
		t.Fatal("sanitized identifiers collide without hash suffix")
	}
	if p := itemPath("sku-1", []byte("other"), "jpeg"); p == itemPath("sku-1", img, "jpeg") {
		t.Fatal("same identifier with different content must map to different paths")
	}
	if p := itemPath("sku-1", img, "jpeg"); p != itemPath("sku-1", img, "jpeg") {
		t.Fatal("path not deterministic")
	}
	if got := itemPath("abc", img, "jpeg"); got[len(got)-4:] != ".jpg" {
		t.Fatalf("jpeg extension not normalized: %q", got)
	}
	if got := itemPath("abc", img, "png"); got[len(got)-4:] != ".png" {
		t.Fatalf("png extension mangled: %q", got)
	}
}

// blindIndex hides existing points from the pre-embedding duplicate probe,
// forcing every ingest through to Insert the way a concurrent ingest that
// passed the probe before the winner's Insert landed would be.
type blindIndex struct {
	*vecstore.Memory
}

func (b *blindIndex) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func TestIngestLostRaceKeepsWinnerFile(t *testing.T) {
	ctx := context.Background()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	vec := vecstore.NewMemory()
	mgr := New(Config{
		Embedder: embed.NewGrid(),
		Vec:      &blindIndex{vec},
		Files:    files,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	winner, err := mgr.Ingest(ctx, IngestRequest{ItemID: "sku-1", Image: Source{Data: testPNG(t, 1)}})
	if err != nil {
		t.Fatalf("winning Ingest: %v", err)
	}

	// Loser with different bytes: must conflict and must not touch the
	// winner's file.
	if _, err := mgr.Ingest(ctx, IngestRequest{ItemID: "sku-1", Image: Source{Data: testPNG(t, 200)}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if ok, err := files.Exists(ctx, winner.StoredPath); err != nil || !ok {
		t.Fatalf("winner's file %s gone after lost race (ok=%v err=%v)", winner.StoredPath, ok, err)
	}

	// Loser with identical bytes writes the winner's own path; it must
	// survive too.
	if _, err := mgr.Ingest(ctx, IngestRequest{ItemID: "sku-1", Image: Source{Data: testPNG(t, 1)}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if ok, err := files.Exists(ctx, winner.StoredPath); err != nil || !ok {
		t.Fatalf("winner's file %s gone after identical-bytes race (ok=%v err=%v)", winner.StoredPath, ok, err)
	}

	if vec.Len() != 1 {
		t.Fatalf("vector count = %d, want 1", vec.Len())
	}
}
