package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/traduki/traduki/internal/api"
	"github.com/traduki/traduki/internal/config"
	"github.com/traduki/traduki/internal/glossary"
	"github.com/traduki/traduki/internal/improve"
	"github.com/traduki/traduki/internal/llm"
	"github.com/traduki/traduki/internal/storage"
	"github.com/traduki/traduki/internal/usage"
	"github.com/traduki/traduki/internal/worker"
	"github.com/traduki/traduki/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the traduki server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running traduki server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show traduki system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "traduki.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "traduki version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice. The health endpoint is authoritative; the PID
	// file is only informational.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("traduki is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("traduki is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the translation stack: ledger, gateway, glossary, workflow
	// engine, improvement extractor, and the extraction queue.
	ledger := usage.NewLedger(store, int64(cfg.Quota.UserLimit), int64(cfg.Quota.AnonLimit))
	primary := llm.NewClient("primary", cfg.Primary.BaseURL, cfg.Primary.APIKey, cfg.Primary.Model)
	fallback := llm.NewClient("fallback", cfg.Fallback.BaseURL, cfg.Fallback.APIKey, cfg.Fallback.Model)
	gateway := llm.NewGateway(primary, fallback, ledger, int64(cfg.Gateway.BudgetPerMinute))

	glossaryMgr := glossary.NewManager(store)
	convs := store.Conversations()
	cache := improve.NewCache()
	extractor := improve.NewExtractor(gateway, convs, glossaryMgr, cache, slog.Default())
	queue := worker.NewQueue(store)
	engine := workflow.NewEngine(gateway, convs, glossaryMgr, queue, slog.Default())

	deps := api.AppDeps{
		Engine:    engine,
		Extractor: extractor,
		Glossary:  glossaryMgr,
		Ledger:    ledger,
		Token:     os.Getenv("TRADUKI_API_TOKEN"),
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(deps),
	}

	g, gctx := errgroup.WithContext(ctx)

	// Extraction worker.
	extractionWorker := worker.NewWorker(store, extractor, 500*time.Millisecond)
	g.Go(func() error {
		extractionWorker.Run(gctx)
		return nil
	})

	// MCP server on stdio, so agent hosts can drive translations directly.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	// HTTP server.
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "traduki listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
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
		printError("traduki is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop traduki (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to traduki (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Primary model", "%s (%s)", cfg.Primary.Model, cfg.Primary.BaseURL)
	printStatus("Fallback model", "%s (%s)", cfg.Fallback.Model, cfg.Fallback.BaseURL)
	printStatus("Cost budget", "%d units / minute", cfg.Gateway.BudgetPerMinute)
	printStatus("Quotas", "user %d, anonymous %d", cfg.Quota.UserLimit, cfg.Quota.AnonLimit)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
