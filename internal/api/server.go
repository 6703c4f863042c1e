package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"deadfeed/internal/api/handlers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

// Server represents the operational HTTP server
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *pterm.Logger
	port   int
}

// Config holds server configuration
type Config struct {
	Host       string
	Port       int
	Production bool
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config, statusHandler *handlers.StatusHandler, registry *prometheus.Registry, logger *pterm.Logger) *Server {
	// Set Gin mode
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", statusHandler.GetStatus)

		api.GET("/servers", statusHandler.ListServers)
		api.POST("/servers", statusHandler.RegisterServer)
		api.DELETE("/servers/:guild/:server", statusHandler.DeactivateServer)

		api.POST("/servers/:guild/:server/backfill", statusHandler.TriggerBackfill)
		api.GET("/servers/:guild/:server/backfill", statusHandler.GetBackfillProgress)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		router: router,
		server: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger,
		port:   cfg.Port,
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("Starting operational server", s.logger.Args("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithCaller().Error("Operational server failed", s.logger.Args("error", err))
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down operational server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
