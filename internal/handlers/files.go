package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/internal/upstream"
	"glmgate/pkg/logging"
)

// FileUpstream is the upload surface of the upstream client.
type FileUpstream interface {
	UploadFile(ctx context.Context, filename string, size int64, content io.Reader) (*upstream.FileObject, error)
}

// FilesHandler relays multipart uploads to the provider's file storage.
type FilesHandler struct {
	Upstream FileUpstream
	MaxBytes int64
}

func NewFilesHandler(up FileUpstream, maxBytes int64) *FilesHandler {
	return &FilesHandler{Upstream: up, MaxBytes: maxBytes}
}

// Upload handles POST /v1/files.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	// Reject oversize uploads before touching the body when the client
	// declared a length.
	if r.ContentLength > h.MaxBytes {
		apierr.WriteJSON(w, apierr.PayloadTooLarge(h.MaxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		apierr.WriteJSON(w, apierr.Validation("request must be multipart/form-data with a \"file\" part"))
		return
	}

	var filename string
	var content []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apierr.WriteJSON(w, apierr.PayloadTooLarge(h.MaxBytes))
				return
			}
			apierr.WriteJSON(w, apierr.Validation("malformed multipart body"))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		filename = part.FileName()
		content, err = io.ReadAll(io.LimitReader(part, h.MaxBytes+1))
		_ = part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apierr.WriteJSON(w, apierr.PayloadTooLarge(h.MaxBytes))
				return
			}
			apierr.WriteJSON(w, apierr.Internal(err))
			return
		}
		break
	}

	if filename == "" || content == nil {
		apierr.WriteJSON(w, apierr.Validation("missing \"file\" part"))
		return
	}
	if int64(len(content)) > h.MaxBytes {
		apierr.WriteJSON(w, apierr.PayloadTooLarge(h.MaxBytes))
		return
	}

	obj, err := h.Upstream.UploadFile(ctx, filename, int64(len(content)), bytes.NewReader(content))
	if err != nil {
		logger.Error("file relay failed",
			zap.String("filename", filename),
			zap.Error(err),
		)
		apierr.WriteJSON(w, err)
		return
	}

	logger.Info("file relayed",
		zap.String("filename", filename),
		zap.Int("bytes", len(content)),
		zap.Duration("duration", time.Since(start)),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(obj)
}
