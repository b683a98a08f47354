package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/mindbridge-backend/internal/platform/httpx"
	"github.com/yungbote/mindbridge-backend/internal/platform/llm"
)

type responsesInput struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responsesTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

type responsesRequest struct {
	Model        string           `json:"model"`
	Instructions string           `json:"instructions,omitempty"`
	Input        []responsesInput `json:"input"`
	Tools        []responsesTool  `json:"tools,omitempty"`
	Stream       bool             `json:"stream"`
}

type streamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Response *struct {
		Model             string       `json:"model"`
		Status            string       `json:"status"`
		Error             *streamError `json:"error"`
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`
	Error *streamError `json:"error"`
}

func (c *Client) buildResponsesRequest(req llm.Request) responsesRequest {
	body := responsesRequest{
		Model:        c.model,
		Instructions: strings.TrimSpace(req.Instructions),
		Stream:       true,
	}
	for _, m := range req.Input {
		role := m.Role
		if role == "" {
			role = "user"
		}
		body.Input = append(body.Input, responsesInput{
			Role:    role,
			Content: []map[string]string{{"type": "input_text", "text": m.Content}},
		})
	}
	if len(c.vectorStoreIDs) > 0 {
		body.Tools = []responsesTool{{Type: "file_search", VectorStoreIDs: c.vectorStoreIDs}}
	}
	return body
}

// openStream posts the request and returns the live event-stream response.
// Retryable failures are retried only here, before any event has been consumed.
func (c *Client) openStream(ctx context.Context, payload []byte) (*http.Response, error) {
	backoff := 1 * time.Second
	for attempt := 0; ; attempt++ {
		req, err := c.newRequest(ctx, http.MethodPost, "/v1/responses", bytes.NewReader(payload), "application/json")
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if err == nil {
			raw, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			err = &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			return nil, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI stream open retrying", "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

// StreamResponse streams output_text deltas from the Responses API.
func (c *Client) StreamResponse(ctx context.Context, req llm.Request, onDelta func(delta string) error) (llm.Completion, error) {
	ctx, span := otel.Tracer("openai").Start(ctx, "openai.responses.stream")
	defer span.End()

	body := c.buildResponsesRequest(req)
	span.SetAttributes(attribute.String("llm.model", body.Model), attribute.Int("llm.tools", len(body.Tools)))

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Completion{}, err
	}
	resp, err := c.openStream(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream")
		return llm.Completion{}, err
	}
	defer resp.Body.Close()

	var (
		full      strings.Builder
		completed bool
		out       = llm.Completion{Model: body.Model}
	)
	err = httpx.ReadSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		typ := ev.Type
		if typ == "" {
			typ = event
		}
		switch typ {
		case "response.output_text.delta":
			d := strings.TrimRight(ev.Delta, "\u0000")
			if d == "" {
				return nil
			}
			full.WriteString(d)
			if onDelta != nil {
				return onDelta(d)
			}
		case "response.completed":
			completed = true
			if ev.Response != nil {
				if ev.Response.Model != "" {
					out.Model = ev.Response.Model
				}
				if u := ev.Response.Usage; u != nil {
					out.Usage = llm.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
				}
			}
			return httpx.ErrStopSSE
		case "response.failed":
			pe := &llm.ProviderError{Provider: ProviderName, Message: "response failed"}
			if ev.Response != nil && ev.Response.Error != nil {
				pe.Code = ev.Response.Error.Code
				pe.Message = ev.Response.Error.Message
			}
			return pe
		case "response.incomplete":
			pe := &llm.ProviderError{Provider: ProviderName, Code: "incomplete", Message: "response incomplete"}
			if ev.Response != nil && ev.Response.IncompleteDetails != nil {
				pe.Message = "response incomplete: " + ev.Response.IncompleteDetails.Reason
			}
			return pe
		case "error":
			pe := &llm.ProviderError{Provider: ProviderName, Code: ev.Code, Message: ev.Message}
			if ev.Error != nil {
				pe.Code, pe.Message = ev.Error.Code, ev.Error.Message
			}
			return pe
		}
		return nil
	})
	if err == nil && !completed {
		err = fmt.Errorf("openai stream ended before completion: %w", io.ErrUnexpectedEOF)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream")
		return llm.Completion{}, err
	}
	out.Text = full.String()
	span.SetAttributes(attribute.Int("llm.output_tokens", out.Usage.OutputTokens))
	return out, nil
}
