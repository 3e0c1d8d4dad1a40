package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrNoEndpoint indicates a destination without an endpoint URL.
	ErrNoEndpoint = errors.New("push destination has no endpoint")
	// ErrGatewayStatus indicates a non-2xx answer from the push gateway.
	ErrGatewayStatus = errors.New("push gateway rejected payload")
)

// BreakerOptions tune the circuit breaker guarding the push gateway.
type BreakerOptions struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
}

// GatewayPusher posts payloads as JSON to the destination endpoint. All
// destinations share one circuit breaker.
type GatewayPusher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewGatewayPusher builds a GatewayPusher. A nil client uses a client with a
// short timeout.
func NewGatewayPusher(log *slog.Logger, client *http.Client, opts BreakerOptions) *GatewayPusher {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultPushTimeout}
	}
	failures := opts.Failures
	if failures == 0 {
		failures = 5
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}
	logger := log.With(slog.String("component", "push_gateway"))
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push_gateway",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &GatewayPusher{client: client, breaker: breaker, logger: logger}
}

// State returns the circuit state: closed, half-open or open.
func (g *GatewayPusher) State() string {
	return g.breaker.State().String()
}

// Push delivers payload to dest through the circuit breaker.
func (g *GatewayPusher) Push(ctx context.Context, dest Destination, payload Payload) error {
	endpoint := strings.TrimSpace(dest.Endpoint)
	if endpoint == "" {
		return ErrNoEndpoint
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = g.breaker.Execute(func() (any, error) {
		return nil, g.post(ctx, endpoint, dest.Token, body)
	})
	return err
}

func (g *GatewayPusher) post(ctx context.Context, endpoint, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post payload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d", ErrGatewayStatus, resp.StatusCode)
	}
	return nil
}

// StaticDestinations serves destinations loaded from configuration.
type StaticDestinations map[string][]Destination

// Destinations implements Destinations.
func (s StaticDestinations) Destinations(user string) []Destination {
	return s[user]
}
