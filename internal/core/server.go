package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pixvault/internal/asset"
	"pixvault/internal/ui"
)

// maxMemoryBytes is how much of a multipart form is held in memory before
// ParseMultipartForm spills file parts to disk.
const maxMemoryBytes = 8 << 20

// Assets is the set of asset operations the HTTP API exposes. It is
// implemented by *asset.Coordinator.
type Assets interface {
	Upload(ctx context.Context, name string, ext string, contentType string, data []byte) (asset.Metadata, error)
	GetMetadata(ctx context.Context, name string) (asset.Metadata, error)
	GetRandomMetadata(ctx context.Context) (asset.Metadata, error)
	List(ctx context.Context, limit int, offset int) ([]asset.Metadata, error)
	Download(ctx context.Context, name string) (*asset.Download, error)
	Delete(ctx context.Context, name string) error
}

// Server serves the image API on top of an Assets implementation.
type Server struct {
	cfg    Config
	assets Assets
}

func NewServer(assets Assets, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Instance == nil {
		cfg.Instance = StaticInstanceInfo{Region: cfg.Region}
	}
	return &Server{cfg: cfg, assets: assets}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// statusForError maps a coordinator error to the HTTP status reported to
// the client.
func statusForError(err error) int {
	switch {
	case asset.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, asset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, asset.ErrNameConflict):
		return http.StatusConflict
	case asset.IsUpstreamError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// detailForError returns the message sent to the client. Collaborator causes
// are only logged.
func detailForError(err error) string {
	for _, kind := range []error{
		asset.ErrInvalidName,
		asset.ErrInvalidExtension,
		asset.ErrEmptyPayload,
		asset.ErrNotFound,
		asset.ErrNameConflict,
		asset.ErrStorageWriteFailed,
		asset.ErrStorageReadFailed,
		asset.ErrStorageDeleteFailed,
		asset.ErrRecordReadFailed,
		asset.ErrRecordWriteFailed,
		asset.ErrRecordDeleteFailed,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "Internal server error"
}

func (s *Server) writeAssetError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Asset operation failed", "err", err, "request_id", RequestID(r.Context()))
	}
	writeError(w, status, detailForError(err))
}

// Handler returns an http.Handler implementing the image API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /gallery", s.handleGallery)

	mux.HandleFunc("POST /images", s.handleUpload)
	mux.HandleFunc("GET /images/random/metadata", s.handleRandomMetadata)
	mux.HandleFunc("GET /images/{name}/metadata", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		s.handleMetadata(w, r, name)
	})
	mux.HandleFunc("GET /images/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		s.handleDownload(w, r, name)
	})
	mux.HandleFunc("DELETE /images/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		s.handleDelete(w, r, name)
	})

	return LogRequest(Recoverer(SlashFix(mux)))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info, err := s.cfg.Instance.Describe(r.Context())
	if err != nil {
		slog.Error("Failed to read instance metadata", "err", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "Failed to read instance metadata")
		return
	}
	writeJSON(w, http.StatusOK, InstanceResult{AvailabilityZone: info.AvailabilityZone, Region: info.Region})
}

// uploadName picks the asset name and extension for a multipart upload: the
// extension always comes from the file name, the name from the form field
// when given and otherwise from the file name stem.
func uploadName(formName string, filename string) (string, string) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	if base == "." || base == "/" {
		base, ext = "", ""
	}

	name := strings.TrimSpace(formName)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSuffix(base, ext))
	}
	return name, ext
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "A file part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	name, ext := uploadName(r.FormValue("name"), header.Filename)

	// The generic type carries no information; let the extension decide.
	contentType := header.Header.Get("Content-Type")
	if contentType == asset.DefaultContentType {
		contentType = ""
	}

	md, err := s.assets.Upload(r.Context(), name, ext, contentType, data)
	if err != nil {
		s.writeAssetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImageMetadata(md))
}

func (s *Server) handleRandomMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := s.assets.GetRandomMetadata(r.Context())
	if err != nil {
		s.writeAssetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImageMetadata(md))
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, name string) {
	md, err := s.assets.GetMetadata(r.Context(), name)
	if err != nil {
		s.writeAssetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newImageMetadata(md))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, name string) {
	dl, err := s.assets.Download(r.Context(), name)
	if err != nil {
		s.writeAssetError(w, r, err)
		return
	}
	defer dl.Body.Close()

	filename := dl.Metadata.Name + "." + dl.Metadata.Extension
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Last-Modified", dl.Metadata.LastUpdated.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Body); err != nil {
		slog.Warn("Download interrupted", "name", name, "err", err, "request_id", RequestID(r.Context()))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.assets.Delete(r.Context(), name); err != nil {
		s.writeAssetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResult{Name: name, Deleted: true})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	page := 0
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > math.MaxInt/s.cfg.PageSize {
			writeError(w, http.StatusBadRequest, "Invalid page number")
			return
		}
		page = n
	}

	// One extra row tells whether a next page exists.
	items, err := s.assets.List(r.Context(), s.cfg.PageSize+1, page*s.cfg.PageSize)
	if err != nil {
		s.writeAssetError(w, r, err)
		return
	}

	hasNext := len(items) > s.cfg.PageSize
	if hasNext {
		items = items[:s.cfg.PageSize]
	}

	images := make([]ui.Image, 0, len(items))
	for _, md := range items {
		images = append(images, ui.Image{
			Name:        md.Name,
			Extension:   md.Extension,
			SizeBytes:   md.SizeBytes,
			LastUpdated: md.LastUpdated.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = ui.GalleryPage(images, ui.Page{Number: page, HasPrev: page > 0, HasNext: hasNext}).Render(r.Context(), w)
	if err != nil {
		slog.Error("Failed to render gallery page", "err", err, "request_id", RequestID(r.Context()))
	}
}
