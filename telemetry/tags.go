// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for the request tags holder.
	requestTagsKey contextKey = "request_tags"
	// callerKey is the context key for propagating the caller outside HTTP requests.
	callerKey contextKey = "caller"
)

// CacheResult represents the outcome of a cache lookup.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheBypass CacheResult = "bypass"
	CacheNA     CacheResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	// API is the route group handling the request: "dicom", "documents",
	// "workspace", "runs" or "ops".
	API         string
	CacheResult CacheResult
	Endpoint    string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(r *http.Request, result CacheResult) {
	if tags := GetTags(r); tags != nil {
		tags.CacheResult = result
	}
}

// SetAPI sets the route group tag for metrics and logging.
func SetAPI(r *http.Request, api string) {
	if tags := GetTags(r); tags != nil {
		tags.API = api
	}
}

// SetEndpoint sets the endpoint name for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// CallerFromContext returns who triggered the work carried by ctx. It
// checks contexts tagged with WithCaller first, then request contexts
// tagged by the middleware. Returns "" when neither is present.
func CallerFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey).(string); ok && c != "" {
		return c
	}
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok && tags != nil {
		return tags.API
	}
	return ""
}

// WithCaller returns a context tagged with caller, for work started outside
// an HTTP request such as CLI commands and background sweeps.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}
