package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/karmgyan/internal/api"
	"github.com/kalambet/karmgyan/internal/config"
	"github.com/kalambet/karmgyan/internal/engine"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the astrology tools over MCP (stdio)",
	Long: `Serve ask_question, generate_report and the credit and report tools to an
MCP client over stdin/stdout. Calls act as mcp.user_id (or --user) and use the
configured storage backend directly; no running server is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr only.
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engCfg := engineConfig(cfg.Engine, logger)
	if err := engine.EnsureReady(engCfg, os.Stderr); err != nil {
		return err
	}

	svc, closeStores, err := buildService(ctx, cfg, logger, engine.NewInvoker(engCfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStores(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	user := cfg.MCP.UserID
	if userFlag != "" {
		user = userFlag
	}
	mcpSrv := api.NewMCPServer(api.MCPDeps{Service: svc, UserID: user, Version: version})

	slog.Info("MCP server started (stdio transport)", "user", user)
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
