// Package api serves run status, the manifest and Prometheus metrics while a
// run is in progress.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/api/handlers"
	"github.com/ownership-graph/rollwin/internal/metrics"
	"github.com/ownership-graph/rollwin/internal/middleware/security"
	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

type Server struct {
	app  *fiber.App
	addr string
}

func NewServer(host string, port int, status *pipeline.Status, manifest handlers.ManifestReader) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(security.HeadersMiddleware())

	metrics.Init()
	runHandler := handlers.NewRunHandler(status, manifest)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	api.Get("/ready", runHandler.Ready)
	api.Get("/status", runHandler.GetStatus)
	api.Get("/manifest", runHandler.GetManifest)
	api.Get("/manifest/:window/variants", runHandler.GetVariants)

	app.Get("/metrics", metrics.MetricsHandler())

	return &Server{app: app, addr: fmt.Sprintf("%s:%d", host, port)}
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens in the background. A listener failure is logged and does
// not stop the run.
func (s *Server) Start() {
	logger.Info("Status server starting", zap.String("address", s.addr))
	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			logger.Error("Status server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
