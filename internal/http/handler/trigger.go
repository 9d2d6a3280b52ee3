package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bubbleflow.app/relay/internal/http/dto"
	"bubbleflow.app/relay/internal/trigger"
)

type TriggerHandler struct {
	registry *trigger.Registry
}

func NewTriggerHandler(registry *trigger.Registry) *TriggerHandler {
	if registry == nil {
		registry = trigger.Default()
	}
	return &TriggerHandler{registry: registry}
}

func (h *TriggerHandler) List(c *gin.Context) {
	types := h.registry.Types()
	resp := dto.ListTriggersResponse{Triggers: make([]dto.TriggerSummary, 0, len(types))}
	for _, t := range types {
		resp.Triggers = append(resp.Triggers, dto.TriggerSummary{
			Type:     string(t),
			Deferred: h.registry.Lookup(t).Deferred,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TriggerHandler) Schema(c *gin.Context) {
	t, ok := h.triggerType(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.registry.Schema(t))
}

// Preview normalizes a sample payload without running anything.
func (h *TriggerHandler) Preview(c *gin.Context) {
	t, ok := h.triggerType(c)
	if !ok {
		return
	}

	var req dto.PreviewTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid preview request"})
		return
	}

	treq := trigger.Request{
		Path:    req.Path,
		Method:  req.Method,
		Headers: trigger.HeadersFromMap(req.Headers),
	}
	resp := dto.PreviewTriggerResponse{
		Type:  string(t),
		Skip:  h.registry.ShouldSkip(t, req.Body),
		Valid: true,
	}

	event, err := h.registry.Parse(t, req.Body, treq)
	if err != nil {
		resp.Valid = false
		var parseErr *trigger.ParseError
		if errors.As(err, &parseErr) && len(parseErr.Fields) > 0 {
			resp.Errors = parseErr.Fields
		} else {
			resp.Errors = []string{err.Error()}
		}
		event = h.registry.Normalize(t, req.Body, treq)
	}
	resp.Event = event.Flatten()

	c.JSON(http.StatusOK, resp)
}

func (h *TriggerHandler) triggerType(c *gin.Context) (trigger.Type, bool) {
	// Types look like "slack/bot_mentioned"; the route splits them in two.
	t := trigger.Type(c.Param("provider") + "/" + c.Param("name"))
	if !h.registry.Registered(t) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown trigger type"})
		return "", false
	}
	return t, true
}
