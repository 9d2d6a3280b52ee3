package dto

import "encoding/json"

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// ExecutionResponse is the body of a synchronous webhook execution.
type ExecutionResponse struct {
	Success     bool            `json:"success"`
	ExecutionID int64           `json:"executionId,string"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
