package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/clarity/internal/api"
	"github.com/kalambet/clarity/internal/completion"
	"github.com/kalambet/clarity/internal/config"
	"github.com/kalambet/clarity/internal/notify"
	"github.com/kalambet/clarity/internal/pipeline"
	"github.com/kalambet/clarity/internal/storage"
	"github.com/kalambet/clarity/internal/verify"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submission server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only submission tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openStore returns the configured submission backend, or nil when
// persistence is disabled.
func openStore(cfg config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendSupabase:
		s, err := storage.NewSupabaseStore(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
		if err != nil {
			return nil, &config.ConfigurationError{Key: "storage.supabase_url", Reason: err.Error()}
		}
		return s, nil
	default:
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return s, nil
	}
}

// newOrchestrator wires the pipeline clients from cfg. store may be nil.
func newOrchestrator(cfg config.Config, store storage.Backend) *pipeline.Orchestrator {
	verifier := verify.NewClient(cfg.Verify.Secret, cfg.Verify.URL)
	completer := completion.NewClient(cfg.Completion.APIKey,
		completion.WithBaseURL(cfg.Completion.BaseURL),
		completion.WithModel(cfg.Completion.Model),
		completion.WithMaxTokens(cfg.Completion.MaxTokens),
	)
	notifier := notify.New(notify.Config{
		APIKey:  cfg.Notify.SendGridAPIKey,
		From:    cfg.Notify.From,
		BaseURL: cfg.Notify.BaseURL,
	})

	if !verifier.Enabled() {
		slog.Warn("reCAPTCHA secret not set; bot verification is skipped")
	}
	if cfg.Completion.APIKey == "" {
		slog.Warn("completion API key not set; upstream calls will be rejected")
	}
	slog.Info("pipeline ready",
		"verification", verifier.Enabled(),
		"model", completer.Model(),
		"email", notifier.Enabled(),
		"persistence", store != nil,
	)

	return pipeline.New(pipeline.Deps{
		Verifier:  verifier,
		Store:     store,
		Completer: completer,
		Notifier:  notifier,
		Subject:   cfg.Notify.Subject,
		Product:   cfg.Notify.Product,
	})
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		slog.Warn("storage backend disabled; submissions are not recorded")
	} else {
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing storage", "error", err)
			}
		}()
		slog.Info("storage ready", "backend", cfg.Storage.Backend)
	}

	deps := api.Deps{
		Submitter:   newOrchestrator(cfg, store),
		Submissions: store,
		AdminToken:  cfg.Server.AdminToken,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Server.Bind, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := listen(addr, cfg.Server.MaxConnections)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("clarity listening", "addr", addr, "max_connections", cfg.Server.MaxConnections)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// listen opens addr, capping concurrent connections at limit when positive.
func listen(addr string, limit int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	return ln, nil
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg.Log.Level)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("mcp requires a storage backend; storage.backend is none")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Submissions: store}, version)
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
