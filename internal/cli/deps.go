package cli

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/config"
	"github.com/zhouzirui/travochat/internal/gateway"
	"github.com/zhouzirui/travochat/internal/identity"
	"github.com/zhouzirui/travochat/internal/logging"
	"github.com/zhouzirui/travochat/internal/orchestrator"
	"github.com/zhouzirui/travochat/internal/realtime"
	"github.com/zhouzirui/travochat/internal/render"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(cfg.Logging, w)
}

// openStore returns the configured preference store and its closer.
func openStore(cfg config.StoreConfig, logger zerolog.Logger) (identity.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return identity.NewMemoryStore(nil), func() error { return nil }, nil
	default:
		s, err := identity.NewSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newOrchestrator(cfg *config.Config, store identity.Store, term *render.Terminal, logger zerolog.Logger) (*orchestrator.Orchestrator, error) {
	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	return orchestrator.New(orchestrator.Deps{
		Store:      store,
		Identities: gateway.NewIdentityGateway(cfg.API, httpClient, logger),
		Sessions:   gateway.NewSessionGateway(cfg.API, httpClient, logger),
		NewChannel: func(session realtime.SessionSource) (orchestrator.Channel, error) {
			return realtime.New(realtime.OptionsFromConfig(cfg.Realtime), session, logger)
		},
		Renderer: term,
		Notifier: term,
		Logger:   logger,
	})
}
