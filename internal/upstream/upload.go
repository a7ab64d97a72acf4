package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
)

// FileObject is the client-facing upload result, OpenAI file-object
// shaped.
type FileObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// UploadFile relays a file body to the provider's storage endpoint.
// The body is streamed through a pipe, never buffered whole. Uploads
// are a single attempt: the operation is not guaranteed idempotent
// upstream, so a failure surfaces to the caller for a manual retry.
func (c *Client) UploadFile(ctx context.Context, filename string, size int64, content io.Reader) (*FileObject, error) {
	endpoint := c.cfg.BaseURL + "/api/v1/files/"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("build upload request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("file upload failed",
			zap.String("filename", filename),
			zap.Int64("bytes", size),
			zap.Error(err),
		)
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		var perr upstreamErrorResponse
		if jsonErr := json.Unmarshal(raw, &perr); jsonErr == nil && perr.Error.Message != "" {
			c.logger.Error("file upload rejected upstream",
				zap.String("filename", filename),
				zap.Int("status", resp.StatusCode),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, apierr.FromStatus(resp.StatusCode, perr.Error.Message)
		}
		return nil, apierr.FromStatus(resp.StatusCode, fmt.Sprintf("upload returned status %d", resp.StatusCode))
	}

	var uploaded upstreamFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, apierr.BadResponse("malformed upload response", err)
	}
	if uploaded.ID == "" {
		return nil, apierr.BadResponse("upload returned no file id", nil)
	}

	c.logger.Info("file uploaded",
		zap.String("filename", filename),
		zap.Int64("bytes", size),
		zap.String("file_id", uploaded.ID),
		zap.Duration("duration", time.Since(start)),
	)

	return &FileObject{
		ID:        fileID(uploaded.ID),
		Object:    "file",
		Bytes:     size,
		CreatedAt: time.Now().Unix(),
		Filename:  filename,
		Purpose:   "assistants",
	}, nil
}

// fileID strips the filename suffix the provider appends to its ids.
func fileID(id string) string {
	if i := strings.Index(id, "_"); i > 0 {
		return id[:i]
	}
	return id
}
