package trigger

import (
	"fmt"
	"time"
)

// Snapshot is the storable form of an event: the raw inputs plus the
// timestamp it was normalized at. Restoring a snapshot reproduces the event.
type Snapshot struct {
	Type      Type           `json:"type"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	Method    string         `json:"method,omitempty"`
	Headers   Headers        `json:"headers,omitempty"`
	Body      map[string]any `json:"body"`
}

// SnapshotOf captures e together with the request it was built from.
func SnapshotOf(e Event, req Request) Snapshot {
	b := Common(e)
	return Snapshot{
		Type:      b.Type,
		Timestamp: b.Timestamp,
		Path:      b.Path,
		Method:    req.Method,
		Headers:   req.Headers,
		Body:      b.Body,
	}
}

func (s Snapshot) Request() Request {
	return Request{Path: s.Path, Method: s.Method, Headers: s.Headers}
}

func (s Snapshot) receivedAt() (time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing snapshot timestamp: %w", err)
	}
	return at, nil
}

// Restore rebuilds the event without validation.
func (s Snapshot) Restore() (Event, error) {
	at, err := s.receivedAt()
	if err != nil {
		return nil, err
	}
	return defaultRegistry.NormalizeAt(at, s.Type, s.Body, s.Request()), nil
}

// RestoreStrict rebuilds the event and validates the payload shape. A
// *ParseError is returned for payloads that do not match the trigger type.
func (s Snapshot) RestoreStrict() (Event, error) {
	at, err := s.receivedAt()
	if err != nil {
		return nil, err
	}
	return defaultRegistry.ParseAt(at, s.Type, s.Body, s.Request())
}
