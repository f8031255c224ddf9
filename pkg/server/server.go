package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/config"
	"github.com/cognidex/crystal/pkg/server/handlers"
)

// Server is the HTTP administration and ingestion surface.
type Server struct {
	config    *config.Config
	router    *gin.Engine
	crystal   crystal.Crystal
	publisher handlers.Publisher
	server    *http.Server
}

// New creates a new server instance. The publisher feeds the same buffered
// source the engine drains.
func New(cfg *config.Config, crystalClient crystal.Crystal, publisher handlers.Publisher) *Server {
	return &Server{
		config:    cfg,
		crystal:   crystalClient,
		publisher: publisher,
	}
}

// Setup builds the router, middleware, and routes.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.crystal)
	ingestHandler := handlers.NewIngestHandler(s.crystal, s.publisher)
	reviewHandler := handlers.NewReviewHandler(s.crystal)
	queryHandler := handlers.NewQueryHandler(s.crystal)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck)
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	v1 := s.router.Group("/api/v1")
	{
		ingest := v1.Group("/ingest")
		{
			ingest.POST("/observations", ingestHandler.AddObservations)
			ingest.POST("/flush", ingestHandler.Flush)
		}

		review := v1.Group("/review")
		{
			review.GET("", reviewHandler.PendingReviews)
			review.POST("/:id/approve", reviewHandler.Approve)
			review.GET("/conflicts", reviewHandler.Conflicts)
		}

		v1.GET("/tiers/:tier", queryHandler.EntitiesByTier)
		v1.GET("/entities/match", queryHandler.MatchEntity)
		v1.GET("/entities/:id", queryHandler.GetEntity)
		v1.GET("/entities/:id/facts", queryHandler.EntityFacts)
		v1.GET("/entities/:id/chains", queryHandler.EntityChains)
		v1.GET("/orphans", queryHandler.Orphans)
		v1.GET("/stats", queryHandler.Stats)
		v1.GET("/facts/stats", queryHandler.Stats)
		v1.GET("/batches", queryHandler.Batches)
	}
}

// Start starts the server.
func (s *Server) Start() error {
	fmt.Printf("Starting server on %s\n", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	fmt.Println("Stopping server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
