package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/envutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/httpx"
	"github.com/yungbote/mindbridge-backend/internal/platform/llm"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

const (
	ProviderName = "anthropic"
	apiVersion   = "2023-06-01"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:    strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		BaseURL:   strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
		Model:     strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
		MaxTokens: envutil.Int("ANTHROPIC_MAX_TOKENS", 8192),
		Timeout:   envutil.Seconds("ANTHROPIC_TIMEOUT_SECONDS", 600*time.Second),
	}
}

// Document is a knowledge-base file sent inline with every request.
type Document struct {
	Title     string
	MediaType string
	// Data is plain text for text documents and base64 for binary ones.
	Data   string
	Base64 bool
}

// LoadDocuments reads knowledge-base files. PDFs are base64 encoded; everything else is sent as text.
func LoadDocuments(paths []string) ([]Document, error) {
	var out []Document
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		doc := Document{Title: filepath.Base(p)}
		if strings.EqualFold(filepath.Ext(p), ".pdf") {
			doc.MediaType = "application/pdf"
			doc.Data = base64.StdEncoding.EncodeToString(raw)
			doc.Base64 = true
		} else {
			doc.MediaType = "text/plain"
			doc.Data = string(raw)
		}
		out = append(out, doc)
	}
	return out, nil
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	documents  []Document
}

func NewClient(log *logger.Logger, cfg Config, docs []Document) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 600 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		log:        log.With("service", "AnthropicClient"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
		documents:  docs,
	}, nil
}

func (c *Client) Name() string { return ProviderName }

type anthropicHTTPError struct {
	StatusCode int
	Body       string
}

func (e *anthropicHTTPError) Error() string {
	return fmt.Sprintf("anthropic http %d: %s", e.StatusCode, e.Body)
}

func (e *anthropicHTTPError) HTTPStatusCode() int { return e.StatusCode }

func (c *Client) buildRequest(req llm.Request) messagesRequest {
	body := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    strings.TrimSpace(req.Instructions),
		Stream:    true,
	}
	for i, m := range req.Input {
		role := m.Role
		if role == "" {
			role = "user"
		}
		var blocks []contentBlock
		if i == 0 {
			for _, d := range c.documents {
				src := &documentSource{Type: "text", MediaType: d.MediaType, Data: d.Data}
				if d.Base64 {
					src.Type = "base64"
				}
				blocks = append(blocks, contentBlock{Type: "document", Source: src, Title: d.Title})
			}
		}
		blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
		body.Messages = append(body.Messages, message{Role: role, Content: blocks})
	}
	return body
}

// StreamResponse streams text_delta events from the Messages API.
func (c *Client) StreamResponse(ctx context.Context, req llm.Request, onDelta func(delta string) error) (llm.Completion, error) {
	ctx, span := otel.Tracer("anthropic").Start(ctx, "anthropic.messages.stream")
	defer span.End()

	body := c.buildRequest(req)
	span.SetAttributes(attribute.String("llm.model", body.Model), attribute.Int("llm.documents", len(c.documents)))

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Completion{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return llm.Completion{}, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return llm.Completion{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		err := &anthropicHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "http")
		return llm.Completion{}, err
	}

	var (
		full    strings.Builder
		stopped bool
		out     = llm.Completion{Model: body.Model}
	)
	err = httpx.ReadSSE(resp.Body, func(event string, data string) error {
		var head streamEvent
		if err := json.Unmarshal([]byte(data), &head); err != nil {
			return nil
		}
		typ := head.Type
		if typ == "" {
			typ = event
		}
		switch typ {
		case "message_start":
			var ev messageStartEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				if ev.Message.Model != "" {
					out.Model = ev.Message.Model
				}
				if ev.Message.Usage != nil {
					out.Usage.InputTokens = ev.Message.Usage.InputTokens
				}
			}
		case "content_block_delta":
			var ev contentBlockDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				return nil
			}
			full.WriteString(ev.Delta.Text)
			if onDelta != nil {
				return onDelta(ev.Delta.Text)
			}
		case "message_delta":
			var ev messageDeltaEvent
			if json.Unmarshal([]byte(data), &ev) == nil && ev.Usage != nil {
				out.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			stopped = true
			return httpx.ErrStopSSE
		case "error":
			var ev apiError
			_ = json.Unmarshal([]byte(data), &ev)
			return &llm.ProviderError{Provider: ProviderName, Code: ev.Error.Type, Message: ev.Error.Message}
		}
		return nil
	})
	if err == nil && !stopped {
		err = fmt.Errorf("anthropic stream ended before message_stop: %w", io.ErrUnexpectedEOF)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream")
		return llm.Completion{}, err
	}
	out.Text = full.String()
	return out, nil
}
