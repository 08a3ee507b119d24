// Package server exposes the REST and websocket surface over the
// engine, the source catalog, and the authentication subsystem.
package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	quotaboard "github.com/Evoltonnac/quota-board"
	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/internal/config"
	"github.com/Evoltonnac/quota-board/internal/engine"
	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/internal/store"
)

// Server implements the HTTP API for the board
type Server struct {
	catalog  *config.Catalog
	executor *engine.Executor
	auth     *auth.Manager
	secrets  *secrets.Store
	sink     *store.Store

	mu      sync.Mutex
	sockets map[*Client]struct{}
}

// NewServer creates a new HTTP API server
func NewServer(
	catalog *config.Catalog, executor *engine.Executor, authMgr *auth.Manager,
	sec *secrets.Store, sink *store.Store,
) *Server {
	return &Server{
		catalog:  catalog,
		executor: executor,
		auth:     authMgr,
		secrets:  sec,
		sink:     sink,
		sockets:  map[*Client]struct{}{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		// Source endpoints
		api.GET("/sources", s.listSources)
		api.GET("/sources/:sourceID/state", s.getSourceState)
		api.POST("/sources/:sourceID/interact", s.handleInteract)
		api.GET("/sources/:sourceID/auth-status", s.getAuthStatus)

		// Data endpoints
		api.GET("/data/:sourceID", s.getSourceData)

		// Refresh endpoints
		api.POST("/refresh", s.refreshAll)
		api.POST("/refresh/:sourceID", s.refreshSource)

		// OAuth endpoints
		api.GET("/oauth/authorize/:sourceID", s.handleAuthorize)
		api.POST("/oauth/callback/:sourceID", s.handleCallback)

		// WebSocket
		api.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": quotaboard.Name,
		"version": quotaboard.Version,
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
