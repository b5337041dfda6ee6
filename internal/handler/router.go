package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/graph"
	"github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/handler/gql"
	"github.com/zhouzirui/z-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/z-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Options tunes the long-lived transports.
type Options struct {
	KeepAlive time.Duration
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, schema *graph.Schema, opts Options, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	gqlHandler := gql.New(schema, opts.KeepAlive, log.With().Str("component", "graphql").Logger())
	chatHandler := chat.New(chatSvc, log.With().Str("component", "chat").Logger())
	streamHandler := stream.New(chatSvc, opts.KeepAlive, log.With().Str("component", "sse").Logger())

	// Query, mutation and the subscription upgrade share one endpoint.
	gqlHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
