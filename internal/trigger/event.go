package trigger

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Type is the declared trigger type of a flow, e.g. "slack/bot_mentioned".
type Type string

const (
	TypeHTTP                 Type = "webhook/http"
	TypeCron                 Type = "schedule/cron"
	TypeSlackBotMentioned    Type = "slack/bot_mentioned"
	TypeSlackMessageReceived Type = "slack/message_received"
)

// IsSlack reports whether the trigger is delivered by Slack's Events API.
func (t Type) IsSlack() bool {
	return strings.HasPrefix(string(t), "slack/")
}

// timestampLayout matches JavaScript's Date.prototype.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way event timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Headers is a case-insensitive header map. Keys are stored lowercased.
type Headers map[string]string

// NewHeaders flattens an http.Header, keeping the first value of each key.
func NewHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(key)] = values[0]
		}
	}
	return out
}

// HeadersFromMap builds Headers from an arbitrary-cased map.
func HeadersFromMap(m map[string]string) Headers {
	out := make(Headers, len(m))
	for key, value := range m {
		out[strings.ToLower(key)] = value
	}
	return out
}

func (h Headers) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Request carries the HTTP metadata an event is normalized from.
type Request struct {
	Path    string
	Method  string
	Headers Headers
}

// Base holds the fields every trigger event carries.
type Base struct {
	Type      Type           `json:"type"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	Body      map[string]any `json:"body"`
}

func (b Base) base() Base { return b }

// Event is a normalized trigger event. The concrete type is one of
// *HTTPEvent, *CronEvent, *BotMentionedEvent, *MessageReceivedEvent or
// *GenericEvent; consumers type-switch on it.
type Event interface {
	json.Marshaler
	// Flatten returns the wire shape handed to flow code.
	Flatten() map[string]any
	base() Base
}

// Common returns the fields shared by every variant.
func Common(e Event) Base {
	return e.base()
}

// HTTPEvent is produced for webhook/http triggers.
type HTTPEvent struct {
	Base
	Method  string  `json:"method"`
	Headers Headers `json:"headers"`
}

func (e *HTTPEvent) Flatten() map[string]any {
	out := spread(e.Body)
	out["method"] = e.Method
	out["headers"] = e.Headers
	return withBase(out, e.Base)
}

func (e *HTTPEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.Flatten()) }

// CronEvent is produced for schedule/cron triggers. Inputs holds the stored
// default inputs that arrived nested under the raw body's "body" key.
type CronEvent struct {
	Base
	Method  string         `json:"method"`
	Headers Headers        `json:"headers"`
	Cron    string         `json:"cron"`
	Inputs  map[string]any `json:"-"`
}

func (e *CronEvent) Flatten() map[string]any {
	out := spread(e.Inputs)
	out["method"] = e.Method
	out["headers"] = e.Headers
	out["cron"] = e.Cron
	return withBase(out, e.Base)
}

func (e *CronEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.Flatten()) }

// SlackMessage holds the convenience fields pulled off a Slack inner event.
// Pointer fields are nil when the inner event does not carry them.
type SlackMessage struct {
	SlackEvent      map[string]any `json:"slack_event"`
	Channel         *string        `json:"channel,omitempty"`
	User            *string        `json:"user,omitempty"`
	Text            *string        `json:"text,omitempty"`
	ThreadTS        *string        `json:"thread_ts,omitempty"`
	Files           []any          `json:"files,omitempty"`
	ThreadHistories []any          `json:"thread_histories"`
}

func (m SlackMessage) fields(out map[string]any) {
	out["slack_event"] = m.SlackEvent
	putString(out, "channel", m.Channel)
	putString(out, "user", m.User)
	putString(out, "text", m.Text)
	putString(out, "thread_ts", m.ThreadTS)
	if m.Files != nil {
		out["files"] = m.Files
	}
	histories := m.ThreadHistories
	if histories == nil {
		histories = []any{}
	}
	out["thread_histories"] = histories
}

// BotMentionedEvent is produced for slack/bot_mentioned triggers.
type BotMentionedEvent struct {
	Base
	SlackMessage
}

func (e *BotMentionedEvent) Flatten() map[string]any {
	out := map[string]any{}
	e.SlackMessage.fields(out)
	return withBase(out, e.Base)
}

func (e *BotMentionedEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.Flatten()) }

// MessageReceivedEvent is produced for slack/message_received triggers.
type MessageReceivedEvent struct {
	Base
	SlackMessage
	ChannelType *string `json:"channel_type,omitempty"`
	Subtype     *string `json:"subtype,omitempty"`
}

func (e *MessageReceivedEvent) Flatten() map[string]any {
	out := map[string]any{}
	e.SlackMessage.fields(out)
	putString(out, "channel_type", e.ChannelType)
	putString(out, "subtype", e.Subtype)
	return withBase(out, e.Base)
}

func (e *MessageReceivedEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.Flatten()) }

// GenericEvent is the fallback for trigger types nobody registered.
type GenericEvent struct {
	Base
	Method  string  `json:"method"`
	Headers Headers `json:"headers"`
}

func (e *GenericEvent) Flatten() map[string]any {
	out := spread(e.Body)
	out["method"] = e.Method
	out["headers"] = e.Headers
	return withBase(out, e.Base)
}

func (e *GenericEvent) MarshalJSON() ([]byte, error) { return json.Marshal(e.Flatten()) }

// spread copies the payload into a fresh map. Callers write their own
// fields afterwards, so payload keys never replace them.
func spread(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+8)
	for key, value := range src {
		out[key] = value
	}
	return out
}

// withBase writes the base fields last so a spread payload can never replace
// the discriminant or the verbatim body.
func withBase(out map[string]any, b Base) map[string]any {
	body := b.Body
	if body == nil {
		body = map[string]any{}
	}
	out["type"] = b.Type
	out["timestamp"] = b.Timestamp
	out["path"] = b.Path
	out["body"] = body
	return out
}

func putString(out map[string]any, key string, value *string) {
	if value != nil {
		out[key] = *value
	}
}
