// Package server provides the HTTP server for the video batch API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/json"

	"github.com/maauso/videobatch-api/internal/batch"
	"github.com/maauso/videobatch-api/internal/pipeline"
)

// BatchRequest is the HTTP request body for POST /process-video.
type BatchRequest struct {
	// Data holds the rows, each expected to be [row_id, filename]. Any
	// value other than an array is treated as an empty batch.
	Data json.RawMessage `json:"data"`
}

// BatchResponse is the HTTP response for POST /process-video.
type BatchResponse struct {
	// Data holds one [row_id, message] pair per request row, in order.
	Data []pipeline.Outcome `json:"data"`
}

// BatchListResponse is the HTTP response for GET /batches.
type BatchListResponse struct {
	Batches []*batch.Batch `json:"batches"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
