package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		kind   ErrorKind
	}{
		{"deadline", 0, context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", 0, fmt.Errorf("do: %w", context.DeadlineExceeded), KindTimeout},
		{"network", 0, errors.New("connection refused"), KindUnavailable},
		{"server error", 503, nil, KindUnavailable},
		{"client error", 404, nil, KindRejected},
		{"unexpected redirect", 301, nil, KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyHTTP("suno", tt.status, tt.err)
			if pe.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", pe.Kind, tt.kind)
			}
		})
	}
}

func TestRetryClassification(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", NewError("mureka", KindTimeout, "deadline", nil))
	if !IsRetryable(wrapped) {
		t.Fatalf("timeout must be retryable through wrapping")
	}
	if IsRejected(wrapped) {
		t.Fatalf("timeout misclassified as rejection")
	}
	if IsRetryable(NewError("suno", KindProtocol, "no task id", nil)) {
		t.Fatalf("protocol error must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain error must not be retryable")
	}
}
