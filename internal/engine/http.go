package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"bubbleflow.app/relay/common/logger"
)

const maxErrorBody = 4 << 10

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPEngine talks to the flow runner over HTTP.
type HTTPEngine struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPEngine(cfg HTTPConfig, client *http.Client) *HTTPEngine {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		timeout: cfg.Timeout,
	}
}

func (e *HTTPEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	span := logger.StartSpan(ctx, "engine.run")
	defer span.End()
	ctx = span.Context()

	resp, err := e.post(ctx, "/execute", req, "application/json")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		err := statusError(resp)
		span.RecordError(err)
		return nil, err
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("execution engine returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decoding engine result: %w", err)
	}
	// A 4xx with a result body is a flow-level failure.
	if resp.StatusCode >= http.StatusBadRequest && result.Success {
		result.Success = false
	}
	return &result, nil
}

func (e *HTTPEngine) RunStreaming(ctx context.Context, req Request, emit func(StreamEvent) error) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	span := logger.StartSpan(ctx, "engine.run_streaming")
	defer span.End()
	ctx = span.Context()

	resp, err := e.post(ctx, "/execute/stream", req, "text/event-stream")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := statusError(resp)
		span.RecordError(err)
		return nil, err
	}

	var result *Result
	err = readEvents(resp.Body, func(ev StreamEvent) error {
		switch ev.Type {
		case "execution_complete", "stream_complete":
			result = resultFromEvent(ev)
			return errStopStream
		case "error":
			msg, _ := ev.Fields["error"].(string)
			if msg == "" {
				msg = "execution failed"
			}
			result = Failure(msg)
			result.Recoverable, _ = ev.Fields["recoverable"].(bool)
			return errStopStream
		}
		return emit(ev)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result == nil {
		span.RecordError(ErrStreamIncomplete)
		return nil, ErrStreamIncomplete
	}
	return result, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, req Request, accept string) (*http.Response, error) {
	body, err := json.Marshal(wireRequest{
		ExecutionID: strconv.FormatInt(req.ExecutionID, 10),
		FlowID:      req.FlowID,
		Code:        req.Code,
		Payload:     req.Event,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling execution engine: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("execution engine returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("execution engine returned status %d: %s", resp.StatusCode, msg)
}

func resultFromEvent(ev StreamEvent) *Result {
	raw, ok := ev.Fields["result"]
	if !ok {
		return &Result{Success: true}
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Failure("malformed execution result")
	}
	var result Result
	if err := json.Unmarshal(encoded, &result); err != nil {
		return Failure("malformed execution result")
	}
	return &result
}
