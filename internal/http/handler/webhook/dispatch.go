package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/http/dto"
	"bubbleflow.app/relay/internal/service"
)

const maxBodyBytes = 5 << 20

type DispatchHandler struct {
	dispatch service.DispatchService
}

func NewDispatchHandler(dispatch service.DispatchService) *DispatchHandler {
	return &DispatchHandler{dispatch: dispatch}
}

// Handle serves POST /webhook/:userId/:path.
func (h *DispatchHandler) Handle(c *gin.Context) {
	req, ok := h.readRequest(c)
	if !ok {
		return
	}

	// Execution outlives a client that hangs up.
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := h.dispatch.Dispatch(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeResult(c, result)
}

// Stream serves POST /webhook/:userId/:path/stream as server-sent events.
func (h *DispatchHandler) Stream(c *gin.Context) {
	req, ok := h.readRequest(c)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())

	flusher, canFlush := c.Writer.(http.Flusher)
	started := false
	emit := func(ev engine.StreamEvent) error {
		if !started {
			setSSEHeaders(c.Writer)
			c.Status(http.StatusOK)
			started = true
		}
		sseWrite(c.Writer, ev.Type, ev)
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	result, err := h.dispatch.DispatchStream(ctx, req, emit)
	switch {
	case err != nil && !started:
		writeError(c, err)
	case err != nil:
		_ = emit(engine.StreamEvent{
			Type:   service.EventStreamError,
			Fields: map[string]any{"error": err.Error(), "recoverable": false},
		})
	case !started:
		writeResult(c, result)
	}
}

func (h *DispatchHandler) readRequest(c *gin.Context) (service.DispatchRequest, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "request body too large"})
			return service.DispatchRequest{}, false
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read request body"})
		return service.DispatchRequest{}, false
	}

	return service.DispatchRequest{
		UserID:  c.Param("userId"),
		Path:    c.Param("path"),
		Method:  c.Request.Method,
		Headers: c.Request.Header,
		RawBody: raw,
		Body:    decodeBody(c.Request.Context(), raw),
	}, true
}

// decodeBody returns the JSON object in raw. Anything else is treated as an
// empty payload.
func decodeBody(ctx context.Context, raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		slog.DebugContext(ctx, "webhook body is not a json object", "error", err)
		return nil
	}
	return body
}

func writeResult(c *gin.Context, result *service.DispatchResult) {
	switch result.Outcome {
	case service.OutcomeChallenge:
		c.JSON(http.StatusOK, dto.ChallengeResponse{Challenge: result.Challenge})
	case service.OutcomeExecuted:
		res := result.Result
		if res == nil {
			res = engine.Failure("execution engine returned no result")
		}
		c.JSON(http.StatusOK, dto.ExecutionResponse{
			Success:     res.Success,
			ExecutionID: result.ExecutionID,
			Data:        res.Data,
			Error:       res.Error,
		})
	default:
		c.JSON(http.StatusOK, gin.H{})
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrWebhookNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Webhook not found"})
	case errors.Is(err, service.ErrWebhookInactive):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "Webhook is not active"})
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid request signature"})
	default:
		slog.ErrorContext(c.Request.Context(), "webhook dispatch failed", "error", err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to dispatch webhook"})
	}
}
