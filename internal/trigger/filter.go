package trigger

// fileShareSubtype is the only message subtype that carries user intent.
const fileShareSubtype = "file_share"

// ShouldSkip reports whether a raw inbound payload must be ignored for the
// given trigger type. It is pure: no I/O, no mutation of body.
func ShouldSkip(t Type, body map[string]any) bool {
	return defaultRegistry.Lookup(t).ShouldSkip(body)
}

func neverSkip(map[string]any) bool { return false }

// skipUnlessAppMention admits only inner events of type app_mention, so a
// mention flow never fires on ambient channel chatter.
func skipUnlessAppMention(body map[string]any) bool {
	event, ok := slackInnerEvent(body)
	if !ok {
		return false
	}
	eventType, _ := event["type"].(string)
	return eventType != "app_mention"
}

// skipBotOrSystemMessage drops bot messages (reply loops) and system
// subtypes such as channel_join or message_changed. file_share is kept.
func skipBotOrSystemMessage(body map[string]any) bool {
	event, ok := slackInnerEvent(body)
	if !ok {
		return false
	}
	if truthy(event["bot_id"]) {
		return true
	}
	subtype, present := event["subtype"]
	if !truthy(subtype) {
		return false
	}
	if s, isString := subtype.(string); present && isString && s == fileShareSubtype {
		return false
	}
	return true
}

// slackInnerEvent returns the envelope's "event" object, if there is one.
func slackInnerEvent(body map[string]any) (map[string]any, bool) {
	if body == nil {
		return nil, false
	}
	event, ok := body["event"].(map[string]any)
	return event, ok
}

// truthy mirrors JavaScript truthiness for decoded JSON values.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0
	case int:
		return value != 0
	case int64:
		return value != 0
	default:
		return true
	}
}
