package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/chat/chatStreaming", "200", 300*time.Millisecond)
	m.ObserveAPI("POST", "/chat/chatStreaming", "200", 20*time.Millisecond)
	m.ApiInflightInc()
	m.ObserveLLMStream("openai", "gpt-4o", "ok", 2*time.Second, 120, 40)
	m.IncTurn(TurnCompleted)
	m.IncTurn(TurnCompleted)
	m.IncTurn("")

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`mb_api_requests_total{method="POST",route="/chat/chatStreaming",status="200"} 2`,
		`mb_api_request_duration_seconds_bucket{method="POST",route="/chat/chatStreaming",status="200",le="0.025"} 1`,
		`mb_api_request_duration_seconds_bucket{method="POST",route="/chat/chatStreaming",status="200",le="+Inf"} 2`,
		`mb_api_inflight_requests 1`,
		`mb_llm_tokens_total{provider="openai",model="gpt-4o",kind="input"} 120`,
		`mb_chat_turns_total{outcome="completed"} 2`,
		`mb_chat_turns_total{outcome="unknown"} 1`,
		`# TYPE mb_llm_request_duration_seconds histogram`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ApiInflightInc()
	m.ApiInflightDec()
	m.ObserveLLMStream("x", "y", "ok", time.Second, 1, 1)
	m.IncTurn(TurnAborted)

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil registry, got %d", rec.Code)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("unexpected label string %s", got)
	}
	if le := withLe("", "1"); le != `{le="1"}` {
		t.Fatalf("unexpected le label %s", le)
	}
}
