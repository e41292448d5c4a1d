package caller

import (
	"context"
	"errors"
)

// Key for caller identity in context
type contextKey string

const (
	callerIDKey  contextKey = "callerID"
	requestIDKey contextKey = "requestID"
)

// ErrCallerIDNotFound is returned when no caller ID is found in context
var ErrCallerIDNotFound = errors.New("caller ID not found in context")

// WithCallerID adds a caller identity to the context
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// FromContext extracts the caller identity from the context
func FromContext(ctx context.Context) (string, error) {
	callerID, ok := ctx.Value(callerIDKey).(string)
	if !ok || callerID == "" {
		return "", ErrCallerIDNotFound
	}
	return callerID, nil
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
