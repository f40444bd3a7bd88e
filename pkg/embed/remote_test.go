package embed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haivivi/picseek/pkg/embed"
)

// fakeEmbeddingResponse builds a minimal OpenAI-compatible embedding response.
func fakeEmbeddingResponse(dim int) []byte {
	type embItem struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	type resp struct {
		Object string    `json:"object"`
		Model  string    `json:"model"`
		Data   []embItem `json:"data"`
	}

	vec := make([]float64, dim)
	for j := range vec {
		vec[j] = 0.01 * float64(j+1)
	}
	b, _ := json.Marshal(resp{
		Object: "list",
		Model:  "test-model",
		Data:   []embItem{{Object: "embedding", Index: 0, Embedding: vec}},
	})
	return b
}

// newFakeServer returns a test server that answers /embeddings with vectors
// of the given dimension and records the last input it received.
func newFakeServer(t *testing.T, dim int, lastInput *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if lastInput != nil {
			*lastInput = req.Input
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeEmbeddingResponse(dim))
	}))
}

func TestRemoteEmbed(t *testing.T) {
	var input string
	srv := newFakeServer(t, 512, &input)
	defer srv.Close()

	e := embed.NewRemote("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(512),
	)

	vec, err := e.Embed(context.Background(), testImage(t, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 512 {
		t.Fatalf("len(vec) = %d, want 512", len(vec))
	}
	if !strings.HasPrefix(input, "data:image/png;base64,") {
		t.Fatalf("server received input %q, want a png data URL", input[:min(40, len(input))])
	}
}

func TestRemoteDimensionMismatch(t *testing.T) {
	srv := newFakeServer(t, 256, nil)
	defer srv.Close()

	e := embed.NewRemote("",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(512),
	)

	_, err := e.Embed(context.Background(), testImage(t, 3))
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestRemoteRejectsGarbageLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		http.Error(w, "should not be reached", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := embed.NewRemote("", embed.WithBaseURL(srv.URL))
	_, err := e.Embed(context.Background(), []byte("junk"))
	if !errors.Is(err, embed.ErrDecode) {
		t.Fatalf("Embed(junk) = %v, want ErrDecode", err)
	}
	if called {
		t.Fatal("invalid input must not reach the server")
	}
}
