package trigger

import "time"

// Normalize builds the typed event for a raw payload. It never fails: fields
// the payload does not carry are left empty, and unregistered trigger types
// produce a *GenericEvent.
func Normalize(t Type, body map[string]any, req Request) Event {
	return defaultRegistry.Normalize(t, body, req)
}

// NormalizeAt is Normalize with a fixed receipt time. Used to rebuild an
// event that was normalized earlier, e.g. before a queue hand-off.
func NormalizeAt(at time.Time, t Type, body map[string]any, req Request) Event {
	return defaultRegistry.NormalizeAt(at, t, body, req)
}

func newBase(at time.Time, t Type, body map[string]any, req Request) Base {
	return Base{
		Type:      t,
		Timestamp: FormatTimestamp(at),
		Path:      req.Path,
		Body:      body,
	}
}

func normalizeHTTP(b Base, req Request) Event {
	return &HTTPEvent{
		Base:    b,
		Method:  req.Method,
		Headers: headersOrEmpty(req.Headers),
	}
}

func normalizeCron(b Base, req Request) Event {
	event := &CronEvent{
		Base:    b,
		Method:  req.Method,
		Headers: headersOrEmpty(req.Headers),
	}
	if b.Body != nil {
		event.Cron, _ = b.Body["cron"].(string)
		event.Inputs, _ = b.Body["body"].(map[string]any)
	}
	return event
}

func normalizeBotMentioned(b Base, _ Request) Event {
	return &BotMentionedEvent{
		Base:         b,
		SlackMessage: extractSlackMessage(b.Body),
	}
}

func normalizeMessageReceived(b Base, _ Request) Event {
	event := &MessageReceivedEvent{
		Base:         b,
		SlackMessage: extractSlackMessage(b.Body),
	}
	if inner, ok := slackInnerEvent(b.Body); ok {
		event.ChannelType = stringField(inner, "channel_type")
		event.Subtype = stringField(inner, "subtype")
	}
	return event
}

func normalizeGeneric(b Base, req Request) Event {
	return &GenericEvent{
		Base:    b,
		Method:  req.Method,
		Headers: headersOrEmpty(req.Headers),
	}
}

func extractSlackMessage(body map[string]any) SlackMessage {
	msg := SlackMessage{
		SlackEvent:      body,
		ThreadHistories: []any{},
	}
	if msg.SlackEvent == nil {
		msg.SlackEvent = map[string]any{}
	}

	inner, ok := slackInnerEvent(body)
	if !ok {
		return msg
	}
	msg.Channel = stringField(inner, "channel")
	msg.User = stringField(inner, "user")
	msg.Text = stringField(inner, "text")
	msg.ThreadTS = stringField(inner, "thread_ts")
	msg.Files, _ = inner["files"].([]any)
	return msg
}

func stringField(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

func headersOrEmpty(h Headers) Headers {
	if h == nil {
		return Headers{}
	}
	return h
}
