package trigger_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bubbleflow.app/relay/internal/trigger"
)

var _ = Describe("Registry", func() {
	It("registers the built-in trigger types", func() {
		Expect(trigger.Default().Types()).To(Equal([]trigger.Type{
			trigger.TypeCron,
			trigger.TypeSlackBotMentioned,
			trigger.TypeSlackMessageReceived,
			trigger.TypeHTTP,
		}))
	})

	It("marks only slack triggers as deferred", func() {
		reg := trigger.Default()
		Expect(reg.Lookup(trigger.TypeSlackBotMentioned).Deferred).To(BeTrue())
		Expect(reg.Lookup(trigger.TypeSlackMessageReceived).Deferred).To(BeTrue())
		Expect(reg.Lookup(trigger.TypeHTTP).Deferred).To(BeFalse())
		Expect(reg.Lookup(trigger.TypeCron).Deferred).To(BeFalse())
	})

	It("resolves unknown types to the generic definition", func() {
		def := trigger.Default().Lookup(trigger.Type("linear/issue_created"))
		Expect(def.Type).To(Equal(trigger.Type("linear/issue_created")))
		Expect(def.ShouldSkip(map[string]any{"event": map[string]any{"bot_id": "B"}})).To(BeFalse())
		Expect(trigger.Default().Registered("linear/issue_created")).To(BeFalse())
	})

	It("adds a trigger type with a single registration", func() {
		reg := trigger.NewRegistry()
		Expect(reg.Register(trigger.Definition{
			Type:       "github/push",
			ShouldSkip: func(body map[string]any) bool { return body["deleted"] == true },
		})).To(Succeed())

		Expect(reg.Registered("github/push")).To(BeTrue())
		Expect(reg.ShouldSkip("github/push", map[string]any{"deleted": true})).To(BeTrue())
		Expect(reg.ShouldSkip("github/push", map[string]any{"deleted": false})).To(BeFalse())

		event := reg.Normalize("github/push", map[string]any{"ref": "main"}, trigger.Request{Method: "POST"})
		Expect(event).To(BeAssignableToTypeOf(&trigger.GenericEvent{}))
	})

	It("rejects duplicate and empty registrations", func() {
		reg := trigger.NewRegistry()
		Expect(reg.Register(trigger.Definition{Type: "a/b"})).To(Succeed())
		Expect(reg.Register(trigger.Definition{Type: "a/b"})).To(MatchError(ContainSubstring("already registered")))
		Expect(reg.Register(trigger.Definition{})).To(HaveOccurred())
	})

	Describe("Schema", func() {
		It("describes the slack mention event without additional properties", func() {
			schema := trigger.Default().Schema(trigger.TypeSlackBotMentioned)
			Expect(schema.Title).To(Equal("slack/bot_mentioned"))

			_, hasChannel := schema.Properties.Get("channel")
			Expect(hasChannel).To(BeTrue())
			_, hasHistories := schema.Properties.Get("thread_histories")
			Expect(hasHistories).To(BeTrue())

			typeProp, _ := schema.Properties.Get("type")
			Expect(typeProp.Const).To(Equal("slack/bot_mentioned"))
		})

		It("allows spread keys on http events", func() {
			schema := trigger.Default().Schema(trigger.TypeHTTP)
			_, hasMethod := schema.Properties.Get("method")
			Expect(hasMethod).To(BeTrue())
			Expect(schema.AdditionalProperties).To(BeNil())
		})
	})
})

var _ = Describe("Parse", func() {
	req := trigger.Request{Path: "/webhook/u/slack", Method: "POST"}

	It("accepts a well-formed app mention", func() {
		body := slackBody(map[string]any{"type": "app_mention", "channel": "C1", "user": "U1", "text": "hi"})
		event, err := trigger.Parse(trigger.TypeSlackBotMentioned, body, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(event).To(BeAssignableToTypeOf(&trigger.BotMentionedEvent{}))
	})

	It("names the missing fields of a malformed mention", func() {
		body := slackBody(map[string]any{"type": "app_mention", "text": "hi"})
		_, err := trigger.Parse(trigger.TypeSlackBotMentioned, body, req)

		var parseErr *trigger.ParseError
		Expect(errors.As(err, &parseErr)).To(BeTrue())
		Expect(parseErr.Type).To(Equal(trigger.TypeSlackBotMentioned))
		Expect(parseErr.Fields).To(ContainElements("event.channel: required", "event.user: required"))
	})

	It("rejects a missing inner event", func() {
		_, err := trigger.Parse(trigger.TypeSlackMessageReceived, map[string]any{"type": "event_callback"}, req)
		Expect(err).To(MatchError(ContainSubstring("event: required")))
	})

	It("reports type mismatches", func() {
		body := slackBody(map[string]any{"type": "message", "channel": 7.0})
		_, err := trigger.Parse(trigger.TypeSlackMessageReceived, body, req)
		var parseErr *trigger.ParseError
		Expect(errors.As(err, &parseErr)).To(BeTrue())
		Expect(parseErr.Error()).To(ContainSubstring("channel"))
	})

	It("requires a cron expression on schedule payloads", func() {
		_, err := trigger.Parse(trigger.TypeCron, map[string]any{"body": map[string]any{}}, req)
		Expect(err).To(MatchError(ContainSubstring("cron: required")))
	})

	It("accepts any object for http and unknown types", func() {
		_, err := trigger.Parse(trigger.TypeHTTP, map[string]any{"anything": true}, req)
		Expect(err).ToNot(HaveOccurred())
		_, err = trigger.Parse(trigger.Type("custom/thing"), nil, req)
		Expect(err).ToNot(HaveOccurred())
	})
})

var _ = Describe("Snapshot", func() {
	It("restores the event with its original timestamp", func() {
		at := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
		req := trigger.Request{Path: "/webhook/u/p", Method: "POST", Headers: trigger.Headers{"x-id": "1"}}
		body := map[string]any{"hello": "world"}

		original := trigger.NormalizeAt(at, trigger.TypeHTTP, body, req)
		snap := trigger.SnapshotOf(original, req)
		Expect(snap.Timestamp).To(Equal("2026-03-04T05:06:07.890Z"))

		restored, err := snap.Restore()
		Expect(err).ToNot(HaveOccurred())
		Expect(flat(restored)).To(Equal(flat(original)))
	})

	It("validates on strict restore", func() {
		snap := trigger.Snapshot{
			Type:      trigger.TypeSlackBotMentioned,
			Timestamp: "2026-03-04T05:06:07.890Z",
			Body:      map[string]any{},
		}
		_, err := snap.RestoreStrict()
		var parseErr *trigger.ParseError
		Expect(errors.As(err, &parseErr)).To(BeTrue())
	})

	It("fails on an unreadable timestamp", func() {
		_, err := trigger.Snapshot{Type: trigger.TypeHTTP, Timestamp: "soon"}.Restore()
		Expect(err).To(HaveOccurred())
	})
})
