package gql

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/graph"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

const (
	// DefaultKeepAlive 默认心跳间隔
	DefaultKeepAlive = 12 * time.Second
	// DefaultInitTimeout graphql-transport-ws 等待 connection_init 的时限
	DefaultInitTimeout = 10 * time.Second

	maxRequestBytes = 1 << 20
)

// Handler GraphQL 端点处理器，同一路径同时提供 HTTP 查询和 WebSocket 订阅
type Handler struct {
	schema      *graph.Schema
	log         zerolog.Logger
	keepAlive   time.Duration
	// initTimeout 仅对 graphql-transport-ws 生效
	initTimeout time.Duration
	upgrader    websocket.Upgrader
}

// New 创建 GraphQL 处理器
func New(schema *graph.Schema, keepAlive time.Duration, log zerolog.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Handler{
		schema:      schema,
		log:         log,
		keepAlive:   keepAlive,
		initTimeout: DefaultInitTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{transportWS.name, legacyWS.name},
		},
	}
}

// RegisterRoutes 注册 GraphQL 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/graphql", h.handleGet)
	r.Post("/graphql", h.handlePost)
}

// handleGet 处理 WebSocket 升级或 GET 查询
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.handleWebSocket(w, r)
		return
	}

	q := r.URL.Query()
	req := graph.Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if raw := q.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "variables must be a JSON object")
			return
		}
	}

	// GET must not change state.
	if graph.OperationType(req) == "mutation" {
		utils.RespondError(w, http.StatusMethodNotAllowed, "mutations require POST")
		return
	}
	h.execute(w, r, req)
}

// handlePost 处理 POST 查询与变更
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		utils.RespondError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	var req graph.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.execute(w, r, req)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req graph.Request) {
	if strings.TrimSpace(req.Query) == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if graph.OperationType(req) == "subscription" {
		utils.RespondError(w, http.StatusBadRequest, "subscriptions require a websocket connection")
		return
	}

	res := h.schema.Do(r.Context(), req)
	if res.HasErrors() {
		h.log.Debug().Interface("errors", res.Errors).Msg("graphql request returned errors")
	}
	utils.RespondJSON(w, http.StatusOK, res)
}
