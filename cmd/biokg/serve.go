package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/api/handlers"
	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/internal/middleware/ratelimit"
	"github.com/biokg/backend/internal/middleware/security"
	"github.com/biokg/backend/internal/middleware/validation"
	"github.com/biokg/backend/internal/query"
	appLogger "github.com/biokg/backend/pkg/logger"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph over HTTP and accept abstract submissions",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "development mode (no HSTS header)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	appLogger.Info("Starting biokg API server")

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	queryEngine := query.NewEngine(rt.processor)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: serveDev}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	graphHandler := handlers.NewGraphHandler(queryEngine)
	abstractHandler := handlers.NewAbstractHandler(rt.processor, rt.ledger)

	api := app.Group("/api/v1")

	api.Post("/abstracts",
		limiter.Middleware(),
		validation.Body[graph.Abstract](validation.Config{
			MaxBodySize: cfg.Server.BodyLimit,
			Logger:      appLogger.GetLogger(),
		}),
		abstractHandler.SubmitAbstract,
	)

	api.Get("/nodes", graphHandler.FindNode)
	api.Get("/nodes/:id", graphHandler.GetNode)
	api.Get("/nodes/:id/edges", graphHandler.GetEdges)
	api.Get("/stats", graphHandler.GetStats)

	api.Get("/health", func(c *fiber.Ctx) error {
		var nodes, edges int
		rt.processor.View(func(doc *graph.Document) {
			nodes, edges = doc.NodeCount(), doc.EdgeCount()
		})
		resp := fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
			"nodes":  nodes,
			"edges":  edges,
		}
		if stats, err := rt.ledger.Stats(); err != nil {
			appLogger.Warn("Failed to read ledger stats", zap.Error(err))
		} else {
			resp["ledger"] = stats
		}
		return c.JSON(resp)
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	appLogger.Info("Server shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
	return nil
}
