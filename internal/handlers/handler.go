// Package handlers exposes the HTTP API and the websocket transport.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rtc-rooms/internal/auth"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/store"
)

// Options tunes the websocket transport
type Options struct {
	ReadLimit  int64
	SendBuffer int
	RateBurst  int
	RateRefill time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.RateRefill <= 0 {
		o.RateRefill = time.Second
	}
	return o
}

type Handler struct {
	log      *slog.Logger
	coord    *coordinator.Coordinator
	rooms    store.RoomStore
	messages store.MessageStore
	auth     *auth.Service
	opts     Options
}

func New(log *slog.Logger, coord *coordinator.Coordinator, rooms store.RoomStore, messages store.MessageStore, authSvc *auth.Service, opts Options) *Handler {
	return &Handler{
		log:      log,
		coord:    coord,
		rooms:    rooms,
		messages: messages,
		auth:     authSvc,
		opts:     opts.withDefaults(),
	}
}

// Routes mounts every route. requireAuth guards the routes that need a user.
func (h *Handler) Routes(router *gin.Engine, requireAuth gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)

		api.POST("/rooms", requireAuth, h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:roomId", h.GetRoom)
		api.DELETE("/rooms/:roomId", requireAuth, h.DeleteRoom)

		api.GET("/messages/:room", h.GetMessages)
		api.POST("/messages", h.PostMessage)
	}

	router.GET("/ws", h.HandleWebSocket)
	router.GET("/ws/signal/:roomId", h.HandleSignaling)
}
