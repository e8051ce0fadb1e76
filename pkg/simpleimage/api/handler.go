// Package api exposes the ingestion pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/urlstrategy"
)

// DefaultMaxUploadSize bounds a multipart request body.
const DefaultMaxUploadSize int64 = 32 << 20

// Handler serves owner uploads, attachment listings and maintenance calls.
type Handler struct {
	coordinator   *simpleimage.Coordinator
	urls          urlstrategy.URLStrategy
	tempDir       string
	maxUploadSize int64
	logger        *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithURLStrategy renders URLs into attachment responses
func WithURLStrategy(s urlstrategy.URLStrategy) Option {
	return func(h *Handler) {
		h.urls = s
	}
}

// WithTempDir sets where uploads are spooled before ingestion
func WithTempDir(dir string) Option {
	return func(h *Handler) {
		h.tempDir = dir
	}
}

// WithMaxUploadSize bounds the multipart body
func WithMaxUploadSize(n int64) Option {
	return func(h *Handler) {
		h.maxUploadSize = n
	}
}

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a new handler over coordinator
func NewHandler(coordinator *simpleimage.Coordinator, opts ...Option) *Handler {
	h := &Handler{
		coordinator:   coordinator,
		tempDir:       os.TempDir(),
		maxUploadSize: DefaultMaxUploadSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for owner and attachment endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.register(r)
	return r
}

func (h *Handler) register(r chi.Router) {
	r.Post("/owners/{ownerType}/regenerate", h.Regenerate)
	r.Post("/owners/{ownerType}/{ownerKey}", h.Upload)
	r.Get("/owners/{ownerType}/{ownerKey}/attachments", h.ListAttachments)
	r.Delete("/owners/{ownerType}/{ownerKey}", h.DeleteOwner)

	r.Get("/attachments/{id}", h.GetAttachment)
	r.Delete("/attachments/{id}", h.DeleteAttachment)
}

// AttachmentResponse is the response body for an attachment
type AttachmentResponse struct {
	ID        uint64    `json:"id"`
	OwnerType string    `json:"owner_type"`
	OwnerKey  uint64    `json:"owner_key"`
	Field     string    `json:"field"`
	Filename  string    `json:"filename"`
	Mime      string    `json:"mime"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Key       string    `json:"key"`
	URL       string    `json:"url,omitempty"`
}

// SaveResponse is the response body of an upload or owner delete
type SaveResponse struct {
	Created    []AttachmentResponse `json:"created"`
	Superseded []AttachmentResponse `json:"superseded"`
	Errors     []string             `json:"errors,omitempty"`
}

// ReportResponse lists isolated failures of a maintenance call
type ReportResponse struct {
	Errors []string `json:"errors,omitempty"`
}

// ErrorResponse is the body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) attachmentResponse(ctx context.Context, att *simpleimage.Attachment, preset string) AttachmentResponse {
	resp := AttachmentResponse{
		ID:        att.ID,
		OwnerType: att.OwnerType,
		OwnerKey:  att.OwnerKey,
		Field:     att.Field,
		Filename:  att.Filename,
		Mime:      att.Mime,
		Size:      att.SizeBytes,
		CreatedAt: att.CreatedAt,
		Key:       att.VariantKey(preset),
	}
	if h.urls != nil {
		u, err := h.urls.URL(ctx, att, preset)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to render url", "filename", att.Filename, "preset", preset, "err", err)
		}
		resp.URL = u
	}
	return resp
}

func (h *Handler) attachmentResponses(ctx context.Context, atts []*simpleimage.Attachment) []AttachmentResponse {
	out := make([]AttachmentResponse, 0, len(atts))
	for _, att := range atts {
		out = append(out, h.attachmentResponse(ctx, att, ""))
	}
	return out
}

func reportErrors(report *simpleimage.Report) []string {
	if report == nil {
		return nil
	}
	errs := report.Errors()
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, simpleimage.ErrUnknownOwnerType), simpleimage.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, simpleimage.ErrUnknownField), errors.Is(err, simpleimage.ErrUnknownPreset):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func ownerKeyParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "ownerKey"), 10, 64)
}

// Upload ingests the multipart form of one owner. File parts are named after
// configured fields; plain values of those fields reference stored files.
// new=true marks an owner being created.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerType := chi.URLParam(r, "ownerType")
	ownerKey, err := ownerKeyParam(r)
	if err != nil {
		h.badRequest(w, r, "Invalid owner key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.badRequest(w, r, fmt.Sprintf("Invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	payload, spooled, err := h.payload(r)
	defer func() {
		for _, path := range spooled {
			_ = os.Remove(path)
		}
	}()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	isNew, _ := strconv.ParseBool(r.FormValue("new"))
	res, err := h.coordinator.Save(r.Context(), simpleimage.OwnerRef{Type: ownerType, Key: ownerKey, New: isNew}, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := SaveResponse{
		Created:    h.attachmentResponses(r.Context(), res.Created),
		Superseded: h.attachmentResponses(r.Context(), res.Superseded),
		Errors:     reportErrors(res.Report),
	}
	switch {
	case len(res.Created) > 0:
		render.Status(r, http.StatusCreated)
	case len(resp.Errors) > 0:
		render.Status(r, http.StatusUnprocessableEntity)
	}
	h.logger.InfoContext(r.Context(), "owner saved", "owner", res.Owner.String(), "created", len(res.Created), "superseded", len(res.Superseded), "errors", len(resp.Errors))
	render.JSON(w, r, resp)
}

// payload spools file parts to temp files and returns them with the
// payload. Field order follows the form; files precede references.
func (h *Handler) payload(r *http.Request) (simpleimage.Payload, []string, error) {
	payload := simpleimage.Payload{}
	var spooled []string

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			path, err := h.spool(fh)
			if err != nil {
				return nil, spooled, err
			}
			spooled = append(spooled, path)
			payload[field] = append(payload[field], simpleimage.Upload{OriginalName: fh.Filename, TempPath: path})
		}
	}
	for field, values := range r.MultipartForm.Value {
		if field == "new" {
			continue
		}
		for _, v := range values {
			if v == "" {
				continue
			}
			// plain values name files already stored for this owner type
			payload[field] = append(payload[field], simpleimage.Upload{Reference: v})
		}
	}
	return payload, spooled, nil
}

func (h *Handler) spool(fh *multipart.FileHeader) (string, error) {
	name := fh.Filename
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload %s: %w", name, err)
	}
	defer src.Close()

	path := filepath.Join(h.tempDir, "simpleimage-"+uuid.New().String()+filepath.Ext(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to spool upload %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to spool upload %s: %w", name, err)
	}
	return path, nil
}

// ListAttachments lists an owner's attachments. With preset set the variant
// is ensured and its key and URL are returned.
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	ownerType := chi.URLParam(r, "ownerType")
	ownerKey, err := ownerKeyParam(r)
	if err != nil {
		h.badRequest(w, r, "Invalid owner key")
		return
	}
	preset := r.URL.Query().Get("preset")

	atts, err := h.coordinator.Attachments(r.Context(), ownerType, ownerKey, r.URL.Query().Get("field"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]AttachmentResponse, 0, len(atts))
	for _, att := range atts {
		if preset != "" {
			if _, err := h.coordinator.Variant(r.Context(), att, preset); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		resp = append(resp, h.attachmentResponse(r.Context(), att, preset))
	}
	render.JSON(w, r, resp)
}

// GetAttachment returns one attachment, ensuring the preset variant when
// ?preset= is given.
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.badRequest(w, r, "Invalid attachment ID")
		return
	}
	att, err := h.coordinator.Repository().GetAttachment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preset := r.URL.Query().Get("preset")
	if preset != "" {
		if _, err := h.coordinator.Variant(r.Context(), att, preset); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	render.JSON(w, r, h.attachmentResponse(r.Context(), att, preset))
}

// DeleteOwner removes every attachment of an owner and reclaims the files
func (h *Handler) DeleteOwner(w http.ResponseWriter, r *http.Request) {
	ownerType := chi.URLParam(r, "ownerType")
	ownerKey, err := ownerKeyParam(r)
	if err != nil {
		h.badRequest(w, r, "Invalid owner key")
		return
	}

	res, err := h.coordinator.DeleteOwner(r.Context(), ownerType, ownerKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, SaveResponse{
		Created:    []AttachmentResponse{},
		Superseded: h.attachmentResponses(r.Context(), res.Superseded),
		Errors:     reportErrors(res.Report),
	})
}

// DeleteAttachment removes one attachment and reclaims its files
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.badRequest(w, r, "Invalid attachment ID")
		return
	}

	_, report, err := h.coordinator.DeleteAttachment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, ReportResponse{Errors: reportErrors(report)})
}

// Regenerate rebuilds the presets of every attachment of an owner type
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	ownerType := chi.URLParam(r, "ownerType")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	report, err := h.coordinator.Regenerate(r.Context(), ownerType, force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, ReportResponse{Errors: reportErrors(report)})
}
