package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayPusherPostsJSON(t *testing.T) {
	t.Parallel()

	var got Payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g := NewGatewayPusher(nil, srv.Client(), BreakerOptions{})
	payload := Payload{ChanID: 1, Timestamp: 2, Title: "t", Body: "b"}
	require.NoError(t, g.Push(context.Background(), Destination{Endpoint: srv.URL, Token: "secret"}, payload))
	assert.Equal(t, payload, got)
	assert.Equal(t, "Bearer secret", auth)
}

func TestGatewayPusherRejectsMissingEndpoint(t *testing.T) {
	t.Parallel()

	g := NewGatewayPusher(nil, nil, BreakerOptions{})
	require.ErrorIs(t, g.Push(context.Background(), Destination{Endpoint: " "}, Payload{}), ErrNoEndpoint)
}

func TestGatewayPusherOpensCircuit(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGatewayPusher(nil, srv.Client(), BreakerOptions{Failures: 2, OpenTimeout: time.Minute})
	dest := Destination{Endpoint: srv.URL}
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, g.Push(context.Background(), dest, Payload{}), ErrGatewayStatus)
	}
	assert.Equal(t, "open", g.State())

	err := g.Push(context.Background(), dest, Payload{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestStaticDestinations(t *testing.T) {
	t.Parallel()

	s := StaticDestinations{"alice": {{ID: "a"}}}
	assert.Len(t, s.Destinations("alice"), 1)
	assert.Empty(t, s.Destinations("bob"))
}
