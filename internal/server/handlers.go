package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/maauso/wmstudio/internal/engine"
	"github.com/maauso/wmstudio/internal/watermark"
	"github.com/maauso/wmstudio/internal/workspace"
)

const (
	// DefaultMaxUploadBytes caps a whole multipart request body.
	DefaultMaxUploadBytes int64 = 2 << 30
	// multipartMemory is how much of a form is buffered in memory before
	// file parts spill to disk.
	multipartMemory int64 = 32 << 20
)

const removeFormHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Remove watermark</title></head>
<body>
<h2>Upload a video</h2>
<form action="/remove" method="post" enctype="multipart/form-data">
  <label>Video: <input type="file" name="file" required></label><br>
  <label>Params JSON (optional):
    <input type="text" name="params" placeholder='{"x":1600,"y":900,"w":320,"h":180}'>
  </label><br>
  <button type="submit">Process</button>
</form>
</body>
</html>
`

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *watermark.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of a multipart request body.
// Larger requests are answered with 413.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *watermark.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET / and GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// RemoveForm handles GET /remove with a minimal upload page.
func (h *Handlers) RemoveForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, removeFormHTML)
}

// Remove handles POST /remove requests.
func (h *Handlers) Remove(w http.ResponseWriter, r *http.Request) {
	// The engine keeps running if the client disconnects so the workspace
	// is always released by the same goroutine that acquired it.
	ctx := context.WithoutCancel(r.Context())

	// The capability check runs before the body is read.
	if err := h.service.CheckCapability(ctx, watermark.OpRemove); err != nil {
		h.writeServiceError(w, err)
		return
	}

	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.close()

	video, ok := h.fileUpload(w, form, "file")
	if !ok {
		return
	}
	defer func() { _ = video.close() }()

	params, _ := form.Value("params")
	in := watermark.RemoveInput{Video: video.Upload, Params: params}
	h.respond(w, r, watermark.OpRemove, func(emit watermark.EmitFunc) error {
		return h.service.Remove(ctx, in, emit)
	})
}

// AddText handles POST /add_text requests.
func (h *Handlers) AddText(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	if err := h.service.CheckCapability(ctx, watermark.OpAddText); err != nil {
		h.writeServiceError(w, err)
		return
	}

	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.close()

	video, ok := h.fileUpload(w, form, "file")
	if !ok {
		return
	}
	defer func() { _ = video.close() }()

	in := watermark.TextInput{Video: video.Upload, Form: form}
	h.respond(w, r, watermark.OpAddText, func(emit watermark.EmitFunc) error {
		return h.service.AddText(ctx, in, emit)
	})
}

// AddImage handles POST /add_image requests.
func (h *Handlers) AddImage(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	if err := h.service.CheckCapability(ctx, watermark.OpAddImage); err != nil {
		h.writeServiceError(w, err)
		return
	}

	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.close()

	video, ok := h.fileUpload(w, form, "file")
	if !ok {
		return
	}
	defer func() { _ = video.close() }()

	mark, ok := h.fileUpload(w, form, "watermark")
	if !ok {
		return
	}
	defer func() { _ = mark.close() }()

	in := watermark.ImageInput{Video: video.Upload, Watermark: mark.Upload, Form: form}
	h.respond(w, r, watermark.OpAddImage, func(emit watermark.EmitFunc) error {
		return h.service.AddImage(ctx, in, emit)
	})
}

// respond runs op with an emitter that streams the output file, and maps
// any failure that happens before streaming starts to an error response.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, op watermark.Operation, run func(watermark.EmitFunc) error) {
	streaming := false
	emit := func(_ context.Context, out watermark.Output) error {
		f, err := os.Open(out.Path)
		if err != nil {
			return fmt.Errorf("%w: open output: %w", watermark.ErrIO, err)
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: stat output: %w", watermark.ErrIO, err)
		}

		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", contentDisposition(out.Filename))
		streaming = true
		http.ServeContent(w, r, "", info.ModTime(), f)
		return nil
	}

	err := run(emit)
	if err == nil {
		h.logger.Info("request processed", slog.String("operation", string(op)))
		return
	}
	if streaming {
		h.logger.Error("failed after response started",
			slog.String("operation", string(op)),
			slog.String("error", err.Error()),
		)
		return
	}
	h.writeServiceError(w, err)
}

// writeServiceError maps service errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var engErr *engine.Error
	switch {
	case errors.Is(err, watermark.ErrDependencyUnavailable):
		writeError(w, http.StatusInternalServerError, detail(err, watermark.ErrDependencyUnavailable), CodeDependencyUnavailable)
	case errors.Is(err, watermark.ErrBadRequest):
		h.logger.Warn("request rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, detail(err, watermark.ErrBadRequest), CodeBadRequest)
	case errors.As(err, &engErr):
		writeError(w, http.StatusInternalServerError, "ffmpeg failed: "+engErr.Stderr, CodeEngineFailure)
	case errors.Is(err, engine.ErrTimeout):
		writeError(w, http.StatusInternalServerError, "ffmpeg timed out", CodeEngineFailure)
	case errors.Is(err, watermark.ErrIO):
		h.logger.Error("workspace failure", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to prepare workspace", CodeIOFailure)
	default:
		h.logger.Error("unexpected failure", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}

// multipartForm adapts a parsed multipart form to params.Form.
type multipartForm struct {
	form *multipart.Form
}

// Value returns the first value submitted under name.
func (f multipartForm) Value(name string) (string, bool) {
	vs, ok := f.form.Value[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// files returns the file parts submitted under name.
func (f multipartForm) files(name string) []*multipart.FileHeader {
	return f.form.File[name]
}

// close removes any file parts spilled to disk.
func (f multipartForm) close() {
	_ = f.form.RemoveAll()
}

// parseForm reads the multipart body under the upload limit. It writes the
// error response itself and reports whether the handler should continue.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) (multipartForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), CodePayloadTooLarge)
			return multipartForm{}, false
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart form", CodeBadRequest)
		return multipartForm{}, false
	}
	return multipartForm{form: r.MultipartForm}, true
}

// openUpload is a workspace upload backed by an open multipart file.
type openUpload struct {
	workspace.Upload
	file multipart.File
}

func (u openUpload) close() error {
	return u.file.Close()
}

// fileUpload opens the file part named field. It writes the error response
// itself and reports whether the handler should continue.
func (h *Handlers) fileUpload(w http.ResponseWriter, form multipartForm, field string) (openUpload, bool) {
	headers := form.files(field)
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is required", field), CodeBadRequest)
		return openUpload{}, false
	}

	f, err := headers[0].Open()
	if err != nil {
		h.logger.Error("failed to open upload",
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read upload", CodeIOFailure)
		return openUpload{}, false
	}

	return openUpload{
		Upload: workspace.Upload{Filename: headers[0].Filename, Body: f},
		file:   f,
	}, true
}

// contentDisposition builds an attachment header, falling back to the
// RFC 2231 form for names that are not plain tokens.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
