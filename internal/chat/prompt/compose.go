// Package prompt builds the model input for one conversation turn.
package prompt

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var promptJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// Input carries everything the user message of a turn is built from.
type Input struct {
	Question     string
	Answer       string
	ResponseType map[string]any
	Country      string
	Role         string
	History      []Turn
}

// Compose renders the single user message sent to the model. Exactly one
// query framing is used: structured analysis when ResponseType is set, then
// follow-up question and answer, then the plain query.
func Compose(in Input) (string, error) {
	var b strings.Builder
	if c := strings.TrimSpace(in.Country); c != "" {
		fmt.Fprintf(&b, "Student's Country is %s.\n", c)
	}
	b.WriteString("Detect the language of the input and respond in that same language.\n\n")
	if strings.EqualFold(strings.TrimSpace(in.Role), "student") {
		b.WriteString("The response to the student should be within 1 or 2 lines only with a conclusion.\n\n")
	}

	b.WriteString("Here is the student's query:\n")
	switch {
	case len(in.ResponseType) > 0:
		form, err := promptJSON.MarshalToString(in.ResponseType["formQuestion"])
		if err != nil {
			return "", fmt.Errorf("encode formQuestion: %w", err)
		}
		result, err := scalar(in.ResponseType["result"])
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		b.WriteString("ANALYSIS TASK:\n")
		b.WriteString("Analyze the following question, answer and provide structured analysis:\n")
		fmt.Fprintf(&b, "Context: %s and result : %s", form, result)
	case strings.TrimSpace(in.Answer) != "":
		fmt.Fprintf(&b, "Student follow-up question='%s' and follow-up answer='%s'. ", in.Question, in.Answer)
		b.WriteString("Based on the student follow-up question and answer give the response.")
	default:
		fmt.Fprintf(&b, "<student_query>\n%s\n</student_query>", in.Question)
	}

	history := in.History
	if history == nil {
		history = []Turn{}
	}
	hist, err := promptJSON.MarshalToString(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	fmt.Fprintf(&b, "\n\nArray of student conversation history = '%s'.", hist)
	return b.String(), nil
}

// Instructions appends the persona description to the system prompt.
func Instructions(system string, persona *Persona) string {
	if persona == nil {
		return system
	}
	return system + " \n" + persona.Description
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	default:
		return promptJSON.MarshalToString(x)
	}
}
