// Package stream recovers sub-queries, citations, and answer text from
// the server-sent-event streams the chat platforms emit while answering.
// It parses, it does not transform: every supported envelope shape maps
// into the same neutral accumulator.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// maxSSELineSize bounds a single SSE line; platform payloads carrying a
// full search-result batch can run to hundreds of kilobytes.
const maxSSELineSize = 2 * 1024 * 1024

// Events splits a raw SSE body into event payloads. Events are
// delimited by a blank line; consecutive data: lines within one event
// are joined with a newline. event:, id: and retry: lines are dropped.
// A trailing event without a final blank line is still flushed.
func Events(body string) []string {
	events, _ := ReadEvents(strings.NewReader(body))
	return events
}

// ReadEvents is the io.Reader form of Events.
func ReadEvents(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)

	var events []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			events = append(events, strings.Join(current, "\n"))
			current = current[:0]
		}
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			current = append(current, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"),
			strings.HasPrefix(line, "id:"),
			strings.HasPrefix(line, "retry:"):
			// Other SSE fields carry no payload for us.
		}
	}
	flush()
	return events, scanner.Err()
}

// Terminal reports whether an event payload ends or skips the stream.
func Terminal(payload string) bool {
	p := strings.TrimSpace(payload)
	return p == "" || p == "[DONE]" || p == "null"
}
