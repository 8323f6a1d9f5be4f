// Package status serves the monitor's per-table state over HTTP.
package status

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/monitor"
)

// Reporter is implemented by *monitor.Monitor
type Reporter interface {
	Status() []monitor.TableStatus
	TableStatus(table string) (monitor.TableStatus, bool)
}

// Server exposes /healthz and the /tables endpoints
type Server struct {
	app      *fiber.App
	reporter Reporter
	logger   *logrus.Logger
}

// NewServer creates the fiber app and registers the routes
func NewServer(reporter Reporter, logger *logrus.Logger) *Server {
	s := &Server{
		app:      fiber.New(fiber.Config{DisableStartupMessage: true, UnescapePath: true}),
		reporter: reporter,
		logger:   logger,
	}

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// GET /tables - status of every monitored table in configuration order
	s.app.Get("/tables", func(c *fiber.Ctx) error {
		return c.JSON(s.reporter.Status())
	})

	// GET /tables/:name - status of one table
	s.app.Get("/tables/:name", func(c *fiber.Ctx) error {
		name := c.Params("name")
		st, ok := s.reporter.TableStatus(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "table is not monitored",
			})
		}
		return c.JSON(st)
	})

	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Infof("Status server listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
