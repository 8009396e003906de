// Package api provides the HTTP REST API of a Meshwork node
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/multiformats/go-multiaddr"

	"github.com/slicol/meshwork/pkg/network"
	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/search"
	"github.com/slicol/meshwork/pkg/storage"
)

// Server is the HTTP API server
type Server struct {
	net      *network.Network
	sender   network.Sender
	searches *search.Manager
	queue    *storage.OutboundQueue
	addrs    func() []multiaddr.Multiaddr

	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	startedAt  time.Time
}

// Deps are the node components the API operates on. Queue and Addrs are
// optional.
type Deps struct {
	Network  *network.Network
	Sender   network.Sender
	Searches *search.Manager
	Queue    *storage.OutboundQueue
	Addrs    func() []multiaddr.Multiaddr
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(deps Deps, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Network == nil || deps.Sender == nil || deps.Searches == nil {
		return nil, fmt.Errorf("api server needs a network, a sender and a search manager")
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		net:       deps.Network,
		sender:    deps.Sender,
		searches:  deps.Searches,
		queue:     deps.Queue,
		addrs:     deps.Addrs,
		router:    gin.New(),
		config:    config,
		startedAt: time.Now(),
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(config.RateLimit)))
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/node/info", s.handleNodeInfo)

		nodes := v1.Group("/nodes")
		{
			nodes.GET("", s.handleListNodes)
			nodes.POST("", s.handleAddNode)
			nodes.PUT("/:id/trust", s.handleSetTrust)
			nodes.PUT("/:id/session", s.handleSetSession)
			nodes.DELETE("/:id", s.handleRemoveNode)
		}

		searches := v1.Group("/searches")
		{
			searches.GET("", s.handleListSearches)
			searches.POST("", s.handleStartSearch)
			searches.GET("/:id/results", s.handleSearchResults)
			searches.POST("/:id/repeat", s.handleRepeatSearch)
			searches.DELETE("/:id", s.handleRemoveSearch)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("/chat", s.handleSendChat)
			messages.POST("/private", s.handleSendPrivate)
			messages.POST("/ping", s.handleSendPing)
		}
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = s.newHTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 HTTP API server starting on port %d...", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNodeNotFound), errors.Is(err, search.ErrUnknownSearch):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrValidation),
		errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, title string, err error) {
	c.JSON(errorStatus(err), ErrorResponse{Error: title, Message: err.Error()})
}
