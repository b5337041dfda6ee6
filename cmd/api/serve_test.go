package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/pubsub"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

// freeAddr reserves a loopback port and releases it for the server under test.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenStoreFallsBackToUnavailable(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{name: "empty", uri: ""},
		{name: "unknown scheme", uri: "bogus://x"},
		{name: "no scheme", uri: "chat.db"},
		{name: "badger without dir", uri: "badger://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openStore(context.Background(), config.StoreConfig{URI: tt.uri}, zerolog.Nop())
			defer st.Close()

			_, err := st.Insert(context.Background(), chat.Message{Message: "hi", Username: "alice", Date: time.Now()})
			assert.ErrorIs(t, err, store.ErrUnavailable)

			_, err = st.FindAll(context.Background())
			assert.ErrorIs(t, err, store.ErrUnavailable)
		})
	}
}

func TestOpenStoreUsesConfiguredBackend(t *testing.T) {
	st := openStore(context.Background(), config.StoreConfig{URI: "memory://"}, zerolog.Nop())
	defer st.Close()

	_, err := st.Insert(context.Background(), chat.Message{Message: "hi", Username: "alice", Date: time.Now()})
	require.NoError(t, err)

	all, err := st.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunServerEndsStreamsBeforeShutdown(t *testing.T) {
	bus := pubsub.New(4, zerolog.Nop())
	attached := make(chan *pubsub.Subscription, 1)

	// a stream handler that only returns once its subscription ends
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		sub := bus.Subscribe(r.Context(), "MESSAGE_ADDED")
		attached <- sub
		<-sub.Done()
		w.WriteHeader(http.StatusNoContent)
	})

	addr := freeAddr(t)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, srv, bus, 5*time.Second) }()
	waitListening(t, addr)

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/stream")
		if err == nil {
			respCh <- resp
		}
	}()

	var sub *pubsub.Subscription
	select {
	case sub = <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never attached")
	}

	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runServer did not return")
	}
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription still attached after shutdown")
	}
	assert.Equal(t, 0, bus.Subscribers("MESSAGE_ADDED"))

	select {
	case resp := <-respCh:
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		_ = resp.Body.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("stream request did not finish")
	}
}

func TestRunServerReportsListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	bus := pubsub.New(4, zerolog.Nop())
	sub := bus.Subscribe(context.Background(), "MESSAGE_ADDED")

	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	err = runServer(context.Background(), srv, bus, time.Second)
	require.Error(t, err)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("bus not closed after listen failure")
	}
}

func TestServeCommandLifecycle(t *testing.T) {
	addr := freeAddr(t)
	flags := &Flags{Config: &config.Config{
		Server:        config.ServerConfig{Addr: addr, ShutdownTimeout: time.Second},
		Store:         config.StoreConfig{URI: "memory://"},
		Subscriptions: config.SubscriptionConfig{BufferSize: 4, KeepAlive: time.Second},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- NewServeCmd(flags).run(ctx, nil) }()
	waitListening(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}
