// Entry point for the signet service: bookmark ingestion workers, HTTP API
// and optional MCP transport over stdio.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/solenne/signet/service"
)

const version = "0.3.0"

func main() {
	// Local development keeps EMBED_API_KEY and friends in a .env file.
	_ = godotenv.Load()

	logLevel := env("LOG_LEVEL", "info")
	configPath := env("SIGNET_CONFIG", "")
	mcpTransport := env("MCP_TRANSPORT", "")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := &service.Config{}
	if configPath != "" {
		loaded, err := service.LoadConfigFile(configPath)
		if err != nil {
			logger.Error("load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if addr := os.Getenv("SIGNET_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if dbPath := os.Getenv("SIGNET_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Error("init service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// A model change orphans old-generation vectors; drop them and their
	// cached lookups so affected bookmarks re-embed on their next ingestion.
	if err := svc.PruneStaleEmbeddings(ctx); err != nil {
		logger.Error("prune stale embeddings", "error", err)
		os.Exit(1)
	}

	svc.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	// Optional MCP over stdio, for use as a local tool server.
	if mcpTransport == "stdio" {
		mcpServer := mcp.NewServer(&mcp.Implementation{Name: "signet", Version: version}, nil)
		svc.RegisterMCP(mcpServer)
		go func() {
			if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
				logger.Error("mcp server", "error", err)
			}
		}()
		logger.Info("mcp listening", "transport", "stdio")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
