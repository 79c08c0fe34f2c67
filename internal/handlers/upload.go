package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/achievehub/apiserver/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	maxUploadBytes  = 32 << 20
	formFieldUpload = "file"
)

// UploadHandler stores uploaded files and serves them back.
type UploadHandler struct {
	storage *storage.Storage
}

// NewUploadHandler constructs a handler over the configured storage backend.
func NewUploadHandler(store *storage.Storage) *UploadHandler {
	return &UploadHandler{storage: store}
}

// Upload saves the multipart "file" field under a per-user, timestamp
// prefixed key and returns its relative URL.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// ParseMultipartForm's argument only bounds in-memory buffering;
	// MaxBytesReader is what caps the body itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(formFieldUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	key := fmt.Sprintf("uploads/%d/%d_%s", user.ID, time.Now().Unix(), name)
	contentType := header.Header.Get("Content-Type")
	if err := h.storage.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{URL: "/" + key})
}

// Serve streams a previously uploaded file back to the client.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	if rest == "" || strings.Contains(rest, "..") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key := path.Join("uploads", rest)
	reader, err := h.storage.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(filepath.Ext(rest))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = io.Copy(w, reader)
}

// UploadResponse carries the stored file's relative URL.
type UploadResponse struct {
	URL string `json:"url"`
}

// sanitizeFilename strips any path components and characters that do not
// belong in a stored object name.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.Trim(name, ".")
}
