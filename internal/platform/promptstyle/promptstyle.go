package promptstyle

import "strings"

const marker = "MINDBRIDGE_RESPONSE_FORMAT_V1"

// ApplyEnvelope appends the response envelope contract to a system prompt.
// Prompts that already carry the marker, or already name the envelope
// fields, are returned unchanged.
func ApplyEnvelope(system string) string {
	base := strings.TrimSpace(system)
	if base == "" {
		return base
	}
	if strings.Contains(base, marker) {
		return base
	}
	if strings.Contains(base, `"response"`) && strings.Contains(base, "followupQuestions") {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n---\n")
	b.WriteString(marker)
	b.WriteString("\nReply with a single JSON object and nothing else.")
	b.WriteString("\nPut the message for the student in \"response\" as a string.")
	b.WriteString("\nPut up to three short follow-up questions in \"followupQuestions\" as an array of strings.")
	b.WriteString("\nPut private reasoning notes, if any, in \"scratchpadText\".")
	return b.String()
}
