package trigger

import (
	"fmt"
	"sort"
	"time"
)

// Definition is everything the relay knows about one trigger type.
type Definition struct {
	Type Type

	// Normalize builds the typed event from the already-populated base.
	Normalize func(b Base, req Request) Event

	// ShouldSkip is the admissibility filter for raw payloads.
	ShouldSkip func(body map[string]any) bool

	// Validate checks the raw payload shape; nil accepts any object.
	Validate func(body map[string]any) error

	// Prototype is a zero event used to derive the JSON schema.
	Prototype Event

	// Deferred triggers are acknowledged before execution: the sender
	// (Slack) retries on slow responses, so the flow runs in the background.
	Deferred bool
}

// Registry maps trigger types to their definitions. Types that were never
// registered resolve to the generic definition.
type Registry struct {
	defs    map[Type]Definition
	generic Definition
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[Type]Definition),
		generic: Definition{
			Normalize:  normalizeGeneric,
			ShouldSkip: neverSkip,
			Prototype:  &GenericEvent{},
		},
		now: time.Now,
	}
}

// Register adds a trigger type. Registering the same type twice is an error.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("trigger type is required")
	}
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("trigger type %q already registered", def.Type)
	}
	if def.Normalize == nil {
		def.Normalize = normalizeGeneric
	}
	if def.ShouldSkip == nil {
		def.ShouldSkip = neverSkip
	}
	if def.Prototype == nil {
		def.Prototype = &GenericEvent{}
	}
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition for t, or the generic one.
func (r *Registry) Lookup(t Type) Definition {
	if def, ok := r.defs[t]; ok {
		return def
	}
	def := r.generic
	def.Type = t
	return def
}

// Registered reports whether t has its own definition.
func (r *Registry) Registered(t Type) bool {
	_, ok := r.defs[t]
	return ok
}

// Types lists registered trigger types in sorted order.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) ShouldSkip(t Type, body map[string]any) bool {
	return r.Lookup(t).ShouldSkip(body)
}

func (r *Registry) Normalize(t Type, body map[string]any, req Request) Event {
	return r.NormalizeAt(r.now(), t, body, req)
}

func (r *Registry) NormalizeAt(at time.Time, t Type, body map[string]any, req Request) Event {
	def := r.Lookup(t)
	return def.Normalize(newBase(at, t, body, req), req)
}

var defaultRegistry = newDefaultRegistry()

// Default returns the registry holding the built-in trigger types.
func Default() *Registry {
	return defaultRegistry
}

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := []Definition{
		{
			Type:      TypeHTTP,
			Normalize: normalizeHTTP,
			Prototype: &HTTPEvent{},
		},
		{
			Type:      TypeCron,
			Normalize: normalizeCron,
			Validate:  validateCron,
			Prototype: &CronEvent{},
		},
		{
			Type:       TypeSlackBotMentioned,
			Normalize:  normalizeBotMentioned,
			ShouldSkip: skipUnlessAppMention,
			Validate:   validateBotMentioned,
			Prototype:  &BotMentionedEvent{},
			Deferred:   true,
		},
		{
			Type:       TypeSlackMessageReceived,
			Normalize:  normalizeMessageReceived,
			ShouldSkip: skipBotOrSystemMessage,
			Validate:   validateMessageReceived,
			Prototype:  &MessageReceivedEvent{},
			Deferred:   true,
		},
	}
	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}
