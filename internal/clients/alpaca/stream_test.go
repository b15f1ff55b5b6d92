package alpaca

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamClient() *StreamClient {
	return NewStreamClient("ws://127.0.0.1:0", Config{APIKey: "key", APISecret: "secret"},
		[]string{"AAPL"}, nil, zerolog.Nop())
}

func TestReadMessagesReturnsWhenDisconnected(t *testing.T) {
	s := newTestStreamClient()

	// No connection was ever established; the read loop must notice the
	// nil connection and return instead of dereferencing it.
	done := make(chan struct{})
	go func() {
		s.readMessages(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read loop did not return on nil connection")
	}
}

func TestReadMessagesReturnsAfterStop(t *testing.T) {
	s := newTestStreamClient()
	require.NoError(t, s.Stop())

	done := make(chan struct{})
	go func() {
		s.readMessages(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read loop did not return after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestStreamClient()

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}
