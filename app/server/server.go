package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"docetl/app/api"
	"docetl/app/middleware"
	"docetl/types"
)

var config = fiber.Config{
	ErrorHandler:          api.ErrorHandler,
	DisableStartupMessage: true,
	BodyLimit:             64 << 20,
}

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

// NewServer wires the health check, the mapping preview, the phase trigger
// and the book upload onto a fiber app.
func NewServer(addr string, cfg *types.Config, runner api.PipelineRunner, uploadDir string) *Server {
	var (
		app           = fiber.New(config)
		checkHandler  = api.NewCheckHandler()
		configHandler = api.NewConfigHandler(cfg)
		runHandler    = api.NewRunHandler(runner)
		fileHandler   = api.NewFileHandler(runner, uploadDir)
		check         = app.Group("/check")
		apiv1         = app.Group("/api/v1")
	)
	app.Use(middleware.RequestLogger(slog.Default(), "/check"))

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Get("/mappings", configHandler.HandleGetMappings)
	apiv1.Post("/runs/:phase", runHandler.HandleRun)
	apiv1.Post("/books", fileHandler.HandleBook)

	return &Server{
		listenAddr: addr,
		app:        app,
		logger:     slog.Default(),
	}
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Stop() {
	s.logger.Info("server stopped")
}

// Run listens until ctx is cancelled, then shuts down with a 5s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.listenAddr)
		errCh <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("error to start server", "error", err.Error())
		}
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		s.logger.Error("server shutdown", "error", err)
		return err
	}
	s.Stop()
	return nil
}
