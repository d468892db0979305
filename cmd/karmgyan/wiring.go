package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/karmgyan/internal/config"
	"github.com/kalambet/karmgyan/internal/conversation"
	"github.com/kalambet/karmgyan/internal/credits"
	"github.com/kalambet/karmgyan/internal/engine"
	"github.com/kalambet/karmgyan/internal/orchestrator"
	"github.com/kalambet/karmgyan/internal/reports"
	"github.com/kalambet/karmgyan/internal/storage"
	"github.com/kalambet/karmgyan/internal/storage/dynamo"
)

// stores bundles the three persistence ports of one backend.
type stores struct {
	credits       credits.Store
	conversations conversation.Store
	reports       reports.Store
	close         func() error
}

func openStores(ctx context.Context, cfg config.StorageConfig) (stores, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return stores{
			credits:       credits.NewMemoryStore(),
			conversations: conversation.NewMemoryStore(),
			reports:       reports.NewMemoryStore(),
			close:         func() error { return nil },
		}, nil

	case config.StorageSQLite:
		s, err := storage.Open(cfg.DataDir)
		if err != nil {
			return stores{}, fmt.Errorf("opening sqlite storage: %w", err)
		}
		return stores{credits: s, conversations: s, reports: s, close: s.Close}, nil

	case config.StorageDynamoDB:
		c, err := dynamo.Open(ctx, dynamo.Options{
			Table:     cfg.DynamoDBTable,
			UserIndex: cfg.DynamoDBUserIndex,
			Region:    cfg.DynamoDBRegion,
			Endpoint:  cfg.DynamoDBEndpoint,
		})
		if err != nil {
			return stores{}, fmt.Errorf("opening dynamodb storage: %w", err)
		}
		return stores{credits: c, conversations: c, reports: c, close: func() error { return nil }}, nil
	}
	return stores{}, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func engineConfig(cfg config.EngineConfig, logger *slog.Logger) engine.Config {
	var args []string
	if cfg.Script != "" {
		args = []string{cfg.Script}
	}
	return engine.Config{
		Command:       cfg.Command,
		Args:          args,
		Dir:           cfg.WorkDir,
		MaxConcurrent: cfg.MaxConcurrent,
		StderrLimit:   cfg.StderrLimit,
		Logger:        logger,
	}
}

// buildService wires storage, engine and orchestrator from cfg. The returned
// func releases the storage.
func buildService(ctx context.Context, cfg config.Config, logger *slog.Logger, eng engine.Engine) (*orchestrator.Service, func() error, error) {
	st, err := openStores(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	svc, err := orchestrator.New(
		credits.NewLedger(st.credits),
		conversation.NewWindow(st.conversations, conversation.DefaultMaxExchanges),
		reports.NewArchive(st.reports),
		eng,
		orchestrator.Config{
			AskTimeout:        cfg.Engine.AskTimeout,
			ReportTimeout:     cfg.Engine.ReportTimeout,
			MaxQuestionLength: cfg.Query.MaxQuestionLength,
			Logger:            logger,
		},
	)
	if err != nil {
		return nil, nil, errors.Join(err, st.close())
	}
	return svc, st.close, nil
}
