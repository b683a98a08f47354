package anthropic

// Messages API request and streaming event shapes.

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string          `json:"type"` // "text" | "document"
	Text   string          `json:"text,omitempty"`
	Source *documentSource `json:"source,omitempty"`
	Title  string          `json:"title,omitempty"`
}

type documentSource struct {
	Type      string `json:"type"` // "text" | "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type streamEvent struct {
	Type string `json:"type"`
}

type messageStartEvent struct {
	Message struct {
		Model string     `json:"model"`
		Usage *usageInfo `json:"usage,omitempty"`
	} `json:"message"`
}

type contentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type string `json:"type"` // "text_delta", "input_json_delta"
		Text string `json:"text,omitempty"`
	} `json:"delta"`
}

type messageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type usageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
