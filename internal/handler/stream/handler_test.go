package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/pubsub"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

func TestStreamDeliversAddedMessages(t *testing.T) {
	bus := pubsub.New(8, zerolog.Nop())
	defer bus.Close()
	svc := chatservice.NewService(store.NewMemoryStore(), bus, zerolog.Nop())

	r := chi.NewRouter()
	New(svc, time.Hour, zerolog.Nop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/messages/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": stream established\n", line)

	require.Eventually(t, func() bool { return bus.Subscribers(chatservice.TopicMessageAdded) == 1 }, time.Second, 5*time.Millisecond)

	added, err := svc.AddMessage(context.Background(), model.NewMessage{Message: "hi", Username: "alice"})
	require.NoError(t, err)

	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	assert.Equal(t, EventMessageAdded, event)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, added.ID, got["id"])
	assert.Equal(t, added.DateString(), got["date"])

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers(chatservice.TopicMessageAdded) == 0 }, 2*time.Second, 10*time.Millisecond)
}
