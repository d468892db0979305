package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/karmgyan/internal/api"
	"github.com/kalambet/karmgyan/internal/config"
	"github.com/kalambet/karmgyan/internal/engine"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the karmgyan server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running karmgyan server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show karmgyan system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "karmgyan.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "karmgyan version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("karmgyan is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("karmgyan is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engCfg := engineConfig(cfg.Engine, logger)
	if err := engine.EnsureReady(engCfg, os.Stderr); err != nil {
		return err
	}
	invoker := engine.NewInvoker(engCfg)

	svc, closeStores, err := buildService(ctx, cfg, logger, invoker)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStores(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("storage ready", "backend", cfg.Storage.Backend)

	limiter := api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Run(ctx, time.Minute)

	handler := api.NewHandler(api.Deps{
		Service:        svc,
		Token:          token,
		AllowedOrigins: cfg.Server.Origins(),
		Limiter:        limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := newHTTPServer(addr, handler)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "karmgyan listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	return drain(srv, cfg.Engine.ReportTimeout+5*time.Second)
}

// newHTTPServer builds the API server. Request contexts are not derived from
// the signal context: a shutdown must let in-flight requests finish.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// drain stops accepting connections and waits up to timeout for in-flight
// requests. Reports can take minutes, so timeout follows the report timeout.
// Requests still running after that are cut off.
func drain(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("in-flight requests did not finish before shutdown timeout", "timeout", timeout)
		return errors.Join(err, srv.Close())
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("karmgyan is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop karmgyan (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to karmgyan (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	engCfg := engineConfig(cfg.Engine, nil)
	if err := engine.EnsureReady(engCfg, io.Discard); err != nil {
		printStatus("Engine", "not ready: %v", err)
	} else {
		printStatus("Engine", "%s %s", cfg.Engine.Command, cfg.Engine.Script)
	}
	printStatus("Timeouts", "ask %s, report %s", cfg.Engine.AskTimeout, cfg.Engine.ReportTimeout)
	printStatus("Storage", "%s", cfg.Storage.Backend)

	if running && cfg.APIToken != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.APIToken, user: userID(), httpClient: client}
		if resp, err := c.get(context.Background(), "/api/ai/credits"); err == nil {
			var body struct {
				Credits int `json:"credits"`
			}
			if decodeJSON(resp, &body) == nil {
				printStatus("Credits", "%s (%s)", formatCredits(body.Credits), userID())
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// prettyJSON writes v indented to stdout.
func prettyJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
