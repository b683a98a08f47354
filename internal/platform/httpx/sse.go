package httpx

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrStopSSE may be returned from an onEvent callback to end reading without error.
var ErrStopSSE = errors.New("stop sse")

// ReadSSE parses a text/event-stream body, invoking onEvent once per dispatched event.
// Multiple data lines are joined with "\n"; comments and unknown fields are ignored.
func ReadSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				if errors.Is(ferr, ErrStopSSE) {
					return nil
				}
				return ferr
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if eof {
			if ferr := flush(); ferr != nil && !errors.Is(ferr, ErrStopSSE) {
				return ferr
			}
			return nil
		}
	}
}
