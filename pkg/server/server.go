// Package server exposes the index.Manager pipeline over HTTP: multipart
// ingest and search, item deletion, and a health probe.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/haivivi/picseek/pkg/embed"
	"github.com/haivivi/picseek/pkg/index"
)

// maxUploadBytes caps the size of a multipart request body.
const maxUploadBytes = 34 << 20 // 32 MiB image + form overhead

// APIKeyHeader is the request header carrying the client credential.
const APIKeyHeader = "Image-Search-Api-Key"

// Config configures a new [Server].
type Config struct {
	// Manager runs the indexing pipeline. Required.
	Manager *index.Manager

	// APIKey, when non-empty, is required in the APIKeyHeader of every
	// request except the health probe.
	APIKey string

	// Logger receives request logs. Optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP transport over an index.Manager. It implements
// http.Handler.
type Server struct {
	mgr    *index.Manager
	apiKey string
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server with its routes registered.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mgr:    cfg.Manager,
		apiKey: cfg.APIKey,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /ingest", s.auth(s.handleIngest))
	s.mux.HandleFunc("POST /search", s.auth(s.handleSearch))
	s.mux.HandleFunc("DELETE /items/{item_id}", s.auth(s.handleDeleteItem))
	s.mux.HandleFunc("DELETE /items", s.auth(s.handleDeleteAll))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(APIKeyHeader) != s.apiKey {
			s.writeError(w, r, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	src, err := s.imageSource(w, r)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	result, err := s.mgr.Ingest(r.Context(), index.IngestRequest{
		ItemID:   r.FormValue("item_id"),
		ItemName: r.FormValue("item_name"),
		ItemCode: r.FormValue("item_code"),
		Image:    src,
	})
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "indexed",
		"item_id":     result.ItemID,
		"stored_path": result.StoredPath,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	src, err := s.imageSource(w, r)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	topK := 0
	if v := r.FormValue("top_k"); v != "" {
		topK, err = strconv.Atoi(v)
		if err != nil || topK <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
	}

	results, err := s.mgr.Search(r.Context(), index.SearchRequest{TopK: topK, Image: src})
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	if results == nil {
		results = []index.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("item_id")
	if err := s.mgr.DeleteItem(r.Context(), itemID); err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "deleted",
		"item_id": itemID,
	})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.mgr.DeleteAll(r.Context())
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "all_deleted",
		"files_deleted": n,
	})
}

// imageSource pulls the image out of the multipart form: the "file" part
// or the "image_url" value. Validation of the exactly-one rule is left to
// the Manager so the error shape is uniform.
func (s *Server) imageSource(w http.ResponseWriter, r *http.Request) (index.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src index.Source
	file, _, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		src.Data, err = io.ReadAll(file)
		if err != nil {
			return index.Source{}, err
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// fall through to image_url
	default:
		return index.Source{}, err
	}
	src.URL = r.FormValue("image_url")
	return src, nil
}

func (s *Server) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, index.ErrInvalidInput),
		errors.Is(err, index.ErrFetch),
		errors.Is(err, embed.ErrDecode),
		errors.Is(err, embed.ErrEmptyInput),
		errors.As(err, &maxErr):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, index.ErrConflict):
		s.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, index.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeError(w, r, http.StatusBadGateway, "upstream failure, retry later")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status != http.StatusBadGateway {
		s.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path,
			"status", status, "error", msg)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
