// Package server provides the public entry point for initializing the
// TaskNest backend: configuration, storage, the tool registry, the intent
// resolver, and the HTTP router, composed into one ready-to-serve unit.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/internal/api"
	"github.com/tasknest/tasknest/internal/api/handlers"
	"github.com/tasknest/tasknest/internal/chat"
	"github.com/tasknest/tasknest/internal/config"
	"github.com/tasknest/tasknest/internal/intent"
	"github.com/tasknest/tasknest/internal/retention"
	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/internal/telemetry"
	"github.com/tasknest/tasknest/internal/tools"
)

// Server holds the initialized TaskNest backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store, exposed for embedding and tests.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
// The context bounds background work (the retention janitor); cancel it on
// shutdown.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	registry := tools.NewRegistry(dataStore)
	resolver := newResolver(cfg.Resolver, dataStore, registry)
	orchestrator := chat.NewOrchestrator(dataStore, registry, resolver)

	h := handlers.New(dataStore, orchestrator, cfg.Version)
	router := api.NewRouter(cfg, h)

	if cfg.Retention.Days > 0 {
		janitor := retention.NewJanitor(dataStore,
			time.Duration(cfg.Retention.IntervalMinutes)*time.Minute, cfg.Retention.Days)
		go janitor.Start(ctx)
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Kind {
	case "sqlite":
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory", "":
		log.Info().Msg("In-memory store initialized")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func newResolver(cfg config.ResolverConfig, s store.Store, registry *tools.Registry) intent.Resolver {
	if cfg.Kind == "model" && cfg.OpenAIKey != "" {
		log.Info().Str("model", cfg.Model).Msg("Model-backed intent resolver initialized")
		return intent.NewModelResolver(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model, registry.List())
	}
	if cfg.Kind == "model" {
		log.Warn().Msg("TASKNEST_RESOLVER=model but OPENAI_API_KEY is empty, using the pattern resolver")
	}
	log.Info().Msg("Pattern intent resolver initialized")
	return intent.NewPatternResolver(s)
}
