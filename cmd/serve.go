package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatewayd/internal/auth"
	"gatewayd/internal/backend"
	"gatewayd/internal/config"
	"gatewayd/internal/gateway"
	"gatewayd/internal/httpapi"
	"gatewayd/internal/registry"
	"gatewayd/internal/router"
	"gatewayd/internal/session"
	"gatewayd/pkg/logging"

	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Starts gatewayd: loads the configuration document, launches the
configured backend processes, and serves the aggregated MCP catalog over
an authenticated HTTP/SSE endpoint until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "gatewayd.yaml", "Path to the gatewayd configuration document")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	logging.Info("serve", "starting gatewayd on %s:%d", cfg.Host, cfg.Port)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(session.DefaultIdleTimeout)
	defer sessions.Stop()

	onNotification := func(backendID, method string, params []byte) {
		payload, err := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  method,
			"params":  json.RawMessage(params),
		})
		if err != nil {
			return
		}
		sessions.Broadcast(session.Event{Name: "message", Data: payload})
	}

	reg := registry.New(onNotification)
	reg.Start(ctx, backendDescriptors(cfg.Backends))
	defer reg.Stop(context.Background())

	rt := router.New(reg, 30*time.Second)
	gw := gateway.New(rt, rt)

	clients := auth.NewClientRegistry(authClients(cfg.Auth.Clients))
	tokens := auth.NewTokenStore()
	defer tokens.Stop()

	accessTTL := cfg.Auth.AccessTokenTTL.Duration()
	refreshTTL := cfg.Auth.RefreshTokenTTL.Duration()
	authCore := auth.NewCore(clients, tokens, auth.AllowAllVerifier{}, cfg.Auth.StaticTokens, accessTTL, refreshTTL)
	authHandler := auth.NewHandler(authCore, cfg.Auth.Issuer)

	watcher, err := config.NewWatcher(serveConfigPath)
	if err != nil {
		logging.Warn("serve", "config live reload unavailable: %v", err)
	} else {
		defer watcher.Close()
		go watchConfig(ctx, watcher, reg)
	}

	metrics := httpapi.NewMetrics()
	mux := httpapi.NewMux(httpapi.Deps{
		Gateway:     gw,
		Registry:    reg,
		Sessions:    sessions,
		AuthCore:    authCore,
		AuthHandler: authHandler,
		Metrics:     metrics,
	})

	limiter := auth.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	limited := auth.RateLimitMiddleware(limiter, metrics.RateLimitRejections.Inc, mux)

	errCh := make(chan error, 1)
	httpServer, err := httpapi.NewServer(cfg.Host, cfg.Port, limited, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	select {
	case <-ctx.Done():
		logging.Info("serve", "shutdown signal received")
	case err := <-errCh:
		logging.Error("serve", err, "HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx, 10*time.Second)
}

func backendDescriptors(backends []config.BackendConfig) []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(backends))
	for _, b := range backends {
		if !b.Enabled {
			continue
		}
		out = append(out, backend.Descriptor{
			ID:             b.ID,
			Command:        b.Command,
			Args:           b.Args,
			Env:            b.Env,
			ConnectTimeout: b.ConnectTimeout.Duration(),
			CallTimeout:    b.CallTimeout.Duration(),
			MaxRestarts:    b.MaxRestarts,
		})
	}
	return out
}

func authClients(clients []config.ClientConfig) []auth.Client {
	out := make([]auth.Client, 0, len(clients))
	for _, c := range clients {
		grants := make([]auth.GrantType, 0, len(c.GrantTypes))
		for _, g := range c.GrantTypes {
			grants = append(grants, auth.GrantType(g))
		}
		out = append(out, auth.Client{
			ID:         c.ID,
			Secret:     c.Secret,
			Name:       c.Name,
			Scopes:     c.Scopes,
			GrantTypes: grants,
		})
	}
	return out
}

// watchConfig applies backend membership changes as the config document
// changes on disk. Changes to OAuth clients, host, port, and log level take
// effect only after a restart.
func watchConfig(ctx context.Context, w *config.Watcher, reg *registry.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}
			logging.Info("serve", "configuration changed, reconciling backends")
			reg.Reload(ctx, backendDescriptors(cfg.Backends))
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logging.Warn("serve", "config watch error: %v", err)
		}
	}
}
