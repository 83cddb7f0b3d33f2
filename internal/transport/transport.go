// Package transport delivers event batches to the collector and classifies
// the outcome of each attempt.
//
// Classification is the pipeline's most consequential decision: a permanent
// failure mistaken for retryable wastes the whole retry budget on an
// unfixable payload, and a retryable failure mistaken for permanent drops
// events that would have succeeded.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rzbill/beacon/internal/event"
)

// Status classifies one send attempt.
type Status int

const (
	Success Status = iota
	Retryable
	Permanent
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Retryable:
		return "RETRYABLE"
	case Permanent:
		return "PERMANENT"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the classified result of a send.
type Outcome struct {
	Status Status
	Reason string
}

// Transport performs the network call for a batch.
type Transport interface {
	Send(ctx context.Context, batch []event.Event) Outcome
}

// HTTP posts JSON event arrays to a collector endpoint.
type HTTP struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTP builds a transport for the given collector URL. Every request is
// bounded by timeout; an unanswered request is classified retryable, never
// left hanging.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Send posts the batch and classifies the response:
// 2xx SUCCESS; 429 and 5xx RETRYABLE; other 4xx PERMANENT; transport-level
// errors (DNS, refused, timeout) RETRYABLE.
func (t *HTTP) Send(ctx context.Context, batch []event.Event) Outcome {
	body, err := json.Marshal(batch)
	if err != nil {
		// unmarshalable batch can never succeed
		return Outcome{Status: Permanent, Reason: fmt.Sprintf("encode: %v", err)}
	}

	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Status: Permanent, Reason: fmt.Sprintf("request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Outcome{Status: Retryable, Reason: fmt.Sprintf("network: %v", err)}
	}
	// drain before close so the connection is reusable
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return Classify(resp.StatusCode)
}

// Classify maps a collector HTTP status to an outcome.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Outcome{Status: Success}
	case statusCode == http.StatusTooManyRequests:
		return Outcome{Status: Retryable, Reason: "status 429"}
	case statusCode >= 400 && statusCode < 500:
		return Outcome{Status: Permanent, Reason: fmt.Sprintf("status %d", statusCode)}
	case statusCode >= 500:
		return Outcome{Status: Retryable, Reason: fmt.Sprintf("status %d", statusCode)}
	default:
		// 1xx/3xx from a collector is out of contract; retry won't fix it
		return Outcome{Status: Permanent, Reason: fmt.Sprintf("status %d", statusCode)}
	}
}
