package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/internal/metrics"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize = 512 * 1024      // 512KB per message content
)

// Session is one in-flight upstream call: the live response body, the
// transcoder translating it, and the cancellation signal that aborts
// the upstream read. A session is owned by the single request that
// opened it and is destroyed when the request completes, fails
// terminally, or the client disconnects.
type Session struct {
	body     io.ReadCloser
	tc       *Transcoder
	cancel   context.CancelFunc
	idle     time.Duration
	timedOut atomic.Bool
	logger   *zap.Logger
}

// Cancel aborts the in-flight upstream read and releases the
// connection. Terminal: no further chunks are emitted after it fires.
func (s *Session) Cancel() {
	s.cancel()
	_ = s.body.Close()
}

// open establishes the upstream connection for req. The connection
// phase is governed by the retry policy; once open returns, no retries
// ever happen for this session.
func (c *Client) open(ctx context.Context, req *ChatRequest, upstreamID string, streaming bool) (*Session, error) {
	if req == nil {
		return nil, apierr.Validation("request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, apierr.Validation(fmt.Sprintf(
				"messages[%d] content too large (%d bytes, max %d)", i, len(m.Content), maxMessageSize))
		}
	}

	envelope := c.buildEnvelope(req, upstreamID, streaming)

	bodyBytes, err := json.Marshal(envelope)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("marshal upstream request: %w", err))
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, apierr.Validation(fmt.Sprintf(
			"request too large (%d bytes, max %d)", len(bodyBytes), maxRequestSize))
	}

	sctx, cancel := context.WithCancel(ctx)

	build := func(ctx context.Context) (*http.Request, error) {
		return c.newChatRequest(ctx, bodyBytes, envelope.ID, req.LastUserText())
	}

	resp, err := c.connect(sctx, build)
	if err != nil {
		cancel()
		c.logger.Error("upstream connect failed",
			zap.String("model", req.Model),
			zap.String("upstream_model", upstreamID),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()

		var perr upstreamErrorResponse
		if jsonErr := json.Unmarshal(raw, &perr); jsonErr == nil && perr.Error.Message != "" {
			c.logger.Error("upstream provider error",
				zap.String("model", req.Model),
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, apierr.FromStatus(resp.StatusCode, perr.Error.Message)
		}

		c.logger.Error("upstream error",
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return nil, apierr.FromStatus(resp.StatusCode, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	return &Session{
		body:   resp.Body,
		tc:     NewTranscoder(req.Model),
		cancel: cancel,
		idle:   c.cfg.IdleTimeout,
		logger: c.logger.With(zap.String("model", req.Model)),
	}, nil
}

// buildEnvelope translates the validated client request into the
// provider envelope. The provider always streams; thinking is disabled
// for non-streaming requests since the reasoning channel cannot be
// aggregated into a completion body.
func (c *Client) buildEnvelope(req *ChatRequest, upstreamID string, streaming bool) upstreamChatRequest {
	now := time.Now()

	params := map[string]any{}
	if req.Temperature != nil {
		params["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		params["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		params["max_tokens"] = *req.MaxTokens
	}

	return upstreamChatRequest{
		Stream:   true,
		Model:    upstreamID,
		Messages: req.Messages,
		Params:   params,
		Features: map[string]bool{
			"enable_thinking": streaming && !strings.Contains(strings.ToLower(req.Model), "nothinking"),
		},
		Variables: map[string]string{
			"{{CURRENT_DATETIME}}": now.Format("2006-01-02 15:04:05"),
			"{{CURRENT_DATE}}":     now.Format("2006-01-02"),
			"{{CURRENT_TIME}}":     now.Format("15:04:05"),
			"{{CURRENT_WEEKDAY}}":  now.Weekday().String(),
		},
		ChatID: uuid.NewString(),
		ID:     uuid.NewString(),
	}
}

// newChatRequest builds a fresh HTTP request per connection attempt,
// including the provider's signed query parameters.
func (c *Client) newChatRequest(ctx context.Context, body []byte, requestID, signContent string) (*http.Request, error) {
	endpoint := c.cfg.BaseURL + "/api/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	q := url.Values{}
	q.Set("requestId", requestID)

	if c.cfg.SigningSecret != "" {
		params := fmt.Sprintf("requestId,%s", requestID)
		signature, timestamp := signPayload(c.cfg.SigningSecret, params, signContent, time.Now())
		q.Set("timestamp", timestamp)
		httpReq.Header.Set("X-Signature", signature)
	}

	httpReq.URL.RawQuery = q.Encode()
	return httpReq, nil
}

// run pulls from the upstream body, feeds the transcoder and delivers
// chunks until the stream terminates. Delivery is synchronous on an
// unbuffered channel: when the consumer has no room, the next upstream
// read is suspended rather than buffered.
func (s *Session) run(ctx context.Context, results chan<- StreamResult) {
	defer close(results)
	defer s.Cancel()

	var watchdog *time.Timer
	if s.idle > 0 {
		watchdog = time.AfterFunc(s.idle, func() {
			s.timedOut.Store(true)
			s.Cancel()
		})
		defer watchdog.Stop()
	}

	deliver := func(ck *StreamChunk) bool {
		metrics.StreamChunksTotal.Inc()
		select {
		case <-ctx.Done():
			return false
		case results <- StreamResult{Chunk: ck}:
			return true
		}
	}

	chunkCount := 0
	buf := make([]byte, 4096)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			if watchdog != nil {
				watchdog.Reset(s.idle)
			}
			for _, ck := range s.tc.Feed(buf[:n]) {
				chunkCount++
				if !deliver(ck) {
					s.logger.Info("stream cancelled while sending chunk",
						zap.Int("chunks", chunkCount),
						zap.Error(ctx.Err()),
					)
					return
				}
			}
			switch s.tc.State() {
			case StateDone:
				s.logger.Info("stream completed", zap.Int("chunks", chunkCount))
				return
			case StateErrored:
				s.logger.Warn("stream errored on malformed data", zap.Int("chunks", chunkCount))
				return
			}
		}

		if err != nil {
			if err == io.EOF && s.tc.State() == StateDone {
				s.logger.Info("stream completed", zap.Int("chunks", chunkCount))
				return
			}
			if ctx.Err() != nil && !s.timedOut.Load() {
				s.logger.Info("stream cancelled", zap.Error(ctx.Err()))
				return
			}

			// EOF before the terminal event is truncation, not
			// completion: the client must not mistake a dropped
			// connection for a finished answer.
			var abort *apierr.Error
			switch {
			case s.timedOut.Load():
				abort = apierr.Timeout(apierr.PhaseIdle, err)
			case err == io.EOF:
				abort = apierr.BadResponse("upstream stream ended before completion", nil)
			default:
				abort = apierr.BadResponse("upstream stream interrupted", err)
			}
			s.logger.Warn("stream aborted",
				zap.Int("chunks", chunkCount),
				zap.Error(abort),
			)
			if ck := s.tc.Abort(abort); ck != nil {
				deliver(ck)
			}
			return
		}
	}
}

// Stream opens a streaming session for req and returns a lazy,
// non-restartable chunk sequence. Connection errors are returned
// synchronously so callers can map them to a proper HTTP status; after
// that, failures arrive as a single terminal error chunk.
func (c *Client) Stream(ctx context.Context, req *ChatRequest, upstreamID string) (<-chan StreamResult, error) {
	s, err := c.open(ctx, req, upstreamID, true)
	if err != nil {
		return nil, err
	}

	results := make(chan StreamResult)
	go s.run(ctx, results)
	return results, nil
}

// Complete performs a non-streaming completion by draining the
// session's chunk stream into one aggregate response. The aggregate
// content is exactly the concatenation of the deltas a streaming
// request would have produced.
func (c *Client) Complete(ctx context.Context, req *ChatRequest, upstreamID string) (*ChatResponse, error) {
	start := time.Now()

	s, err := c.open(ctx, req, upstreamID, false)
	if err != nil {
		return nil, err
	}

	results := make(chan StreamResult)
	go s.run(ctx, results)

	var content strings.Builder
	var usage *Usage
	finishReason := "stop"

	for res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		ck := res.Chunk
		if ck == nil {
			continue
		}
		if ck.Error != nil {
			return nil, errorFromChunk(ck.Error)
		}
		for _, choice := range ck.Choices {
			content.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
		if ck.Usage != nil {
			usage = ck.Usage
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &ChatResponse{
		ID:      s.tc.ID(),
		Object:  "chat.completion",
		Created: s.tc.Created(),
		Model:   req.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: RoleAssistant, Content: content.String()},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}

	c.logger.Info("completion finished",
		zap.String("model", req.Model),
		zap.Int("content_length", content.Len()),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func errorFromChunk(ce *ChunkError) *apierr.Error {
	status := ce.Code
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &apierr.Error{
		Status:  status,
		Type:    apierr.Type(ce.Type),
		Message: ce.Message,
	}
}
