package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Set them once where a request or queue message is resolved and every log
// line below carries flow_id, execution_id, etc. without repeating them.
type LogFields struct {
	FlowID      *int64  // Flow being triggered
	WebhookID   *int64  // Webhook row that resolved the request
	ExecutionID *int64  // Execution record for this run
	MessageID   *string // Redis stream message ID
	TriggerType *string // Declared trigger type, e.g. "slack/bot_mentioned"
	UserID      *string // Owner of the webhook
	RequestID   *string // X-Request-ID of the inbound HTTP request
	Component   string  // Component name, e.g. "relay.worker.reclaimer"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.FlowID != nil {
		result.FlowID = new.FlowID
	}
	if new.WebhookID != nil {
		result.WebhookID = new.WebhookID
	}
	if new.ExecutionID != nil {
		result.ExecutionID = new.ExecutionID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.TriggerType != nil {
		result.TriggerType = new.TriggerType
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{FlowID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
