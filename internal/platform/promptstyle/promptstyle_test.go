package promptstyle

import (
	"strings"
	"testing"
)

func TestApplyEnvelope(t *testing.T) {
	out := ApplyEnvelope("You are a kind counsellor.")
	if !strings.HasPrefix(out, "You are a kind counsellor.") {
		t.Fatalf("base prompt not preserved: %q", out)
	}
	if !strings.Contains(out, marker) || !strings.Contains(out, "followupQuestions") {
		t.Fatalf("envelope contract missing: %q", out)
	}
	if again := ApplyEnvelope(out); again != out {
		t.Fatalf("not idempotent:\n%q\n%q", out, again)
	}
}

func TestApplyEnvelopeKeepsPromptsThatDescribeEnvelope(t *testing.T) {
	in := `Return {"response": "...", "followupQuestions": []}`
	if got := ApplyEnvelope(in); got != in {
		t.Fatalf("expected unchanged, got %q", got)
	}
	if got := ApplyEnvelope("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
