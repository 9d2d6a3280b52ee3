package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errStopStream = errors.New("stop stream")

const maxEventSize = 1 << 20

// readEvents decodes a text/event-stream body, calling fn for every event
// whose data is a JSON object. The SSE event name is used as the type when
// the payload carries none.
func readEvents(r io.Reader, fn func(StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventSize)

	var (
		name string
		data []string
	)

	dispatch := func() error {
		defer func() {
			name = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return nil
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &ev); err != nil {
			// Non-JSON payloads are keepalives.
			return nil
		}
		if ev.Type == "" {
			ev.Type = name
		}
		if ev.Type == "" {
			return nil
		}
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading execution stream: %w", err)
	}
	if err := dispatch(); err != nil && !errors.Is(err, errStopStream) {
		return err
	}
	return nil
}
