package upstream

// Wire shapes for the provider's phase-tagged chat API. The provider
// always streams; each SSE data line carries one of these events.

type upstreamEvent struct {
	Type string            `json:"type"`
	Data upstreamEventData `json:"data"`
}

type upstreamEventData struct {
	Phase        string `json:"phase"`
	DeltaContent string `json:"delta_content"`
	EditContent  string `json:"edit_content"`
	Done         bool   `json:"done"`
	Usage        *Usage `json:"usage"`
}

// upstreamChatRequest is the request envelope the provider expects.
// Stream is always true; non-streaming responses are aggregated on our
// side from the SSE stream.
type upstreamChatRequest struct {
	Stream    bool              `json:"stream"`
	Model     string            `json:"model"`
	Messages  []ChatMessage     `json:"messages"`
	Params    map[string]any    `json:"params"`
	Features  map[string]bool   `json:"features"`
	Variables map[string]string `json:"variables"`
	ChatID    string            `json:"chat_id"`
	ID        string            `json:"id"`
}

type upstreamErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type upstreamModelsResponse struct {
	Data []upstreamModel `json:"data"`
}

type upstreamModel struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	OwnedBy string            `json:"owned_by"`
	Info    upstreamModelInfo `json:"info"`
}

type upstreamModelInfo struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	IsActive  *bool             `json:"is_active"`
	Meta      upstreamModelMeta `json:"meta"`
}

type upstreamModelMeta struct {
	Capabilities map[string]bool `json:"capabilities"`
	Hidden       bool            `json:"hidden"`
}

type upstreamFileResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}
