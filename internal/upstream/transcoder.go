package upstream

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"glmgate/internal/apierr"
)

// TranscoderState tracks the per-session translation state machine.
type TranscoderState int

const (
	StateIdle TranscoderState = iota
	StateOpen
	StateEmitting
	StateDone
	StateErrored
)

func (s TranscoderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

const dataPrefix = "data:"

// Transcoder converts the provider's phase-tagged SSE events into
// client-facing chunks. Feed tolerates arbitrary fragmentation of the
// byte stream: incomplete lines are buffered until a full event
// boundary arrives. Events are never reordered; sequence numbers follow
// arrival order of successfully parsed events. Once Done or Errored,
// the transcoder emits nothing further.
type Transcoder struct {
	state   TranscoderState
	id      string
	model   string
	created int64
	seq     int
	partial []byte
}

func NewTranscoder(model string) *Transcoder {
	return &Transcoder{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (t *Transcoder) State() TranscoderState { return t.state }

// ID is the completion id shared by every chunk of the session.
func (t *Transcoder) ID() string { return t.id }

// Created is the session timestamp shared by every chunk.
func (t *Transcoder) Created() int64 { return t.created }

// Feed consumes raw upstream bytes and returns the zero or more chunks
// produced by the complete events they contain.
func (t *Transcoder) Feed(p []byte) []*StreamChunk {
	if t.state == StateDone || t.state == StateErrored {
		return nil
	}
	if t.state == StateIdle && len(p) > 0 {
		t.state = StateOpen
	}

	t.partial = append(t.partial, p...)

	var chunks []*StreamChunk
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		line := t.partial[:i]
		t.partial = t.partial[i+1:]

		if ck := t.consumeLine(line); ck != nil {
			chunks = append(chunks, ck)
		}
		if t.state == StateDone || t.state == StateErrored {
			break
		}
	}
	return chunks
}

// Abort moves the transcoder to Errored and returns the single
// synthetic error chunk for the given failure, so the client never
// silently hangs. Returns nil if the session already terminated; at
// most one error chunk is ever produced per session.
func (t *Transcoder) Abort(e *apierr.Error) *StreamChunk {
	if t.state == StateDone || t.state == StateErrored {
		return nil
	}
	t.state = StateErrored
	return t.errorChunk(e)
}

func (t *Transcoder) consumeLine(line []byte) *StreamChunk {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// Ignore SSE comments and non-data fields.
		return nil
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, []byte("[DONE]")) {
		t.state = StateDone
		return nil
	}

	var ev upstreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.state = StateErrored
		return t.errorChunk(apierr.BadResponse("malformed upstream stream data", err))
	}

	if ev.Type != "" && ev.Type != "chat:completion" {
		return nil
	}

	t.state = StateEmitting
	data := ev.Data

	switch data.Phase {
	case "thinking":
		content := scrubThinking(data.DeltaContent)
		if content == "" {
			return nil
		}
		return t.emit(ChunkDelta{Role: RoleAssistant, ReasoningContent: content}, "", nil)

	case "answer", "tool_call":
		content := data.DeltaContent
		if content == "" {
			content = data.EditContent
		}
		content = scrubAnswer(content)
		if content == "" {
			return nil
		}
		return t.emit(ChunkDelta{Role: RoleAssistant, Content: content}, "", nil)

	case "other":
		// Terminal event: carries usage and any trailing content.
		t.state = StateDone
		return t.emit(ChunkDelta{Role: RoleAssistant, Content: scrubAnswer(data.DeltaContent)}, "stop", data.Usage)

	case "done":
		t.state = StateDone
		return nil

	default:
		// Unknown phases are skipped, not failed.
		return nil
	}
}

func (t *Transcoder) emit(delta ChunkDelta, finishReason string, usage *Usage) *StreamChunk {
	ck := &StreamChunk{
		Seq:     t.seq,
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		Usage:   usage,
	}
	t.seq++
	return ck
}

func (t *Transcoder) errorChunk(e *apierr.Error) *StreamChunk {
	ck := t.emit(ChunkDelta{}, "error", nil)
	ck.Error = &ChunkError{
		Message: e.Message,
		Type:    string(e.Type),
		Code:    e.Status,
	}
	return ck
}

// scrubThinking drops the provider's summary header from reasoning
// deltas.
func scrubThinking(content string) string {
	if i := strings.LastIndex(content, "</summary>\n"); i >= 0 {
		return content[i+len("</summary>\n"):]
	}
	return content
}

// scrubAnswer drops the collapsed thinking block the provider prepends
// to the first answer delta.
func scrubAnswer(content string) string {
	if i := strings.LastIndex(content, "</details>"); i >= 0 {
		return content[i+len("</details>"):]
	}
	return content
}
