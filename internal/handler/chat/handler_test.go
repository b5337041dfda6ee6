package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/pubsub"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

func setupRouter(t *testing.T, st store.Store) *chi.Mux {
	t.Helper()
	bus := pubsub.New(8, zerolog.Nop())
	t.Cleanup(bus.Close)
	handler := New(chatservice.NewService(st, bus, zerolog.Nop()), zerolog.Nop())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAddMessageCreated(t *testing.T) {
	r := setupRouter(t, store.NewMemoryStore())

	resp := do(r, http.MethodPost, "/messages", []byte(`{"message":"hi","username":"alice","date":"0"}`))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.NotEmpty(t, got["id"])
	assert.Equal(t, "hi", got["message"])
	assert.Equal(t, "alice", got["username"])
	assert.Nil(t, got["profilePic"])
	assert.Nil(t, got["image"])
	assert.NotEqual(t, "0", got["date"])
}

func TestAddMessageMissingUsername(t *testing.T) {
	r := setupRouter(t, store.NewMemoryStore())

	resp := do(r, http.MethodPost, "/messages", []byte(`{"message":"hi"}`))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Contains(t, got["error"], "username is required")
	assert.Equal(t, map[string]any{"message": "hi", "username": ""}, got["invalidArgs"])

	list := do(r, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, `[]`, list.Body.String())
}

func TestAddMessageInvalidBody(t *testing.T) {
	r := setupRouter(t, store.NewMemoryStore())

	resp := do(r, http.MethodPost, "/messages", []byte(`{"message":`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListMessages(t *testing.T) {
	r := setupRouter(t, store.NewMemoryStore())

	for _, body := range []string{
		`{"message":"one","username":"alice"}`,
		`{"message":"two","username":"bob","image":"https://example.com/cat.gif"}`,
	} {
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/messages", []byte(body)).Code)
	}

	resp := do(r, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0]["message"])
	assert.Equal(t, "two", got[1]["message"])
	assert.Equal(t, "https://example.com/cat.gif", got[1]["image"])
}

func TestStoreUnavailable(t *testing.T) {
	r := setupRouter(t, store.Unavailable(errors.New("no route to host")))

	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/messages", nil).Code)
	assert.Equal(t, http.StatusInternalServerError,
		do(r, http.MethodPost, "/messages", []byte(`{"message":"hi","username":"alice"}`)).Code)
}
