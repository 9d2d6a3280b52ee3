package dto

type TriggerSummary struct {
	Type     string `json:"type"`
	Deferred bool   `json:"deferred"`
}

type ListTriggersResponse struct {
	Triggers []TriggerSummary `json:"triggers"`
}

type PreviewTriggerRequest struct {
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

type PreviewTriggerResponse struct {
	Type   string         `json:"type"`
	Skip   bool           `json:"skip"`
	Valid  bool           `json:"valid"`
	Errors []string       `json:"errors,omitempty"`
	Event  map[string]any `json:"event"`
}
