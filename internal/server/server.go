package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_custody/internal/routes"
)

// Server wraps the Fiber application and the domain services behind it.
type Server struct {
	app      *fiber.App
	address  string
	services *routes.Services
}

// New builds the services and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	services, err := routes.Build(d)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      d.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: routes.ErrorHandler(d.Logger),
	})
	routes.Setup(app, d, services)

	return &Server{app: app, address: d.Cfg.Address(), services: services}, nil
}

// Services exposes the domain services for background workers.
func (s *Server) Services() *routes.Services {
	return s.services
}

// App returns the underlying Fiber app; tests drive it with app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.address)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
