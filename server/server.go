// Package server exposes the jobs API: submission, inspection, cancellation,
// and queue health over HTTP. The queue core has no dependency on this
// package; it is host glue for the web tier.
package server

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/logger"
	"github.com/curioshelf/curio/queue"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

type Server struct {
	app   *fiber.App
	queue *queue.Queue
	cfg   config.ServerConfig
	log   *zap.SugaredLogger
}

// New builds the HTTP server over a constructed queue.
func New(cfg config.ServerConfig, q *queue.Queue) *Server {
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Prefork,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:   app,
		queue: q,
		cfg:   cfg,
		log:   logger.Named("http"),
	}

	// Request ID + logging middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		s.log.Infow("request",
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds())
		return err
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.app.Group("/v1")

	v1.Post("/jobs", s.submitJob)
	v1.Get("/jobs", s.listJobs)
	v1.Get("/jobs/:id", s.jobDetail)
	v1.Delete("/jobs/:id", s.cancelJob)
	v1.Post("/jobs/retry-failed", s.retryFailed)

	v1.Get("/queue/stats", s.queueStats)
	v1.Get("/queue/workers", s.workerStatus)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the configured port until Shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Infow("HTTP server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
