// Command mcpgate serves the echo MCP server over the streamable HTTP
// session gate. Configuration comes from the environment; see config.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/mcpgate/mcp-gate-go/examples/echo"
	"github.com/mcpgate/mcp-gate-go/internal/logctx"
	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/mcpservice"
	"github.com/mcpgate/mcp-gate-go/sessions"
	"github.com/mcpgate/mcp-gate-go/streaminghttp"
)

type config struct {
	ListenAddr   string        `env:"LISTEN_ADDR,default=:8080"`
	EndpointPath string        `env:"MCP_ENDPOINT,default=/mcp"`
	Strict       bool          `env:"STRICT_SESSIONS,default=false"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
	ResourcesDir string        `env:"RESOURCES_DIR,default="`
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT,default=10s"`
}

func main() {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		slog.Error("config.decode.err", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := buildServer(ctx, cfg, log)
	if err != nil {
		log.Error("server.build.err", slog.String("err", err.Error()))
		os.Exit(1)
	}

	registry := sessions.NewRegistry(log)
	handler, err := streaminghttp.New(cfg.EndpointPath, registry, server,
		streaminghttp.WithLogger(log),
		streaminghttp.WithStrictSessionValidation(cfg.Strict),
	)
	if err != nil {
		log.Error("handler.build.err", slog.String("err", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listen",
			slog.String("addr", cfg.ListenAddr),
			slog.String("endpoint", cfg.EndpointPath),
			slog.Bool("strict_sessions", cfg.Strict),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("server.drain")
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			log.Error("server.drain.err", slog.String("err", err.Error()))
			os.Exit(1)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server.listen.err", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
}

// buildServer assembles the capability server: the echo surfaces, plus a
// watched filesystem resources capability when RESOURCES_DIR is set.
func buildServer(ctx context.Context, cfg config, log *slog.Logger) (mcpservice.ServerCapabilities, error) {
	if cfg.ResourcesDir == "" {
		return echo.New(), nil
	}

	dir, err := mcpservice.NewDirResources(cfg.ResourcesDir,
		mcpservice.WithBaseURI("fs://files"),
		mcpservice.WithDirLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if err := dir.Watch(ctx); err != nil {
		return nil, err
	}

	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("echo", echoTool, mcpservice.WithToolDescription("Echo a message back to the caller")),
	)
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-gate", Version: "0.1.0"}),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithResourcesCapability(dir),
	), nil
}

func echoTool(ctx context.Context, _ *sessions.Session, args echo.EchoArgs) (*mcp.CallToolResult, error) {
	return mcpservice.TextResult("Tool echo: " + args.Message), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
