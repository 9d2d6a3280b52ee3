package trigger

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the event produced for t. Types with
// spread payloads allow additional properties.
func (r *Registry) Schema(t Type) *jsonschema.Schema {
	def := r.Lookup(t)
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: allowsSpread(def.Prototype),
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	schema := reflector.Reflect(def.Prototype)
	schema.Title = string(t)
	if schema.Properties != nil {
		if prop, ok := schema.Properties.Get("type"); ok {
			prop.Const = string(t)
		}
	}
	return schema
}

func allowsSpread(e Event) bool {
	switch e.(type) {
	case *HTTPEvent, *CronEvent, *GenericEvent:
		return true
	default:
		return false
	}
}
