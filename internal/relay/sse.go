package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WriteSSE drains s into w as Server-Sent Events, flushing after each event.
// Content, error and done payloads become data lines; keep-alives become SSE
// comments. It returns the first write error, after which the caller must
// cancel the stream's context.
func WriteSSE(w io.Writer, flusher http.Flusher, s *Stream) error {
	for ev := range s.Events() {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

func writeEvent(w io.Writer, ev Event) error {
	if ev.Kind == EventKeepAlive {
		_, err := fmt.Fprintf(w, ": %s\n\n", ev.Payload)
		return err
	}
	var b strings.Builder
	for _, line := range strings.Split(ev.Payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
