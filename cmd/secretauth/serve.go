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
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	sa "github.com/panyam/secretauth"
	sagrpc "github.com/panyam/secretauth/grpc"
	"github.com/panyam/secretauth/internal/config"
	"github.com/panyam/secretauth/internal/metrics"
	"github.com/panyam/secretauth/internal/web"
	"github.com/panyam/secretauth/oauth2"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web application",
		Long: `Run the web application on HTTP_ADDR.

When GRPC_ADDR is set a gRPC server is started alongside it. Its
health service is public; every other method requires the session
token in the x-session-token metadata key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cfg.NewLogger(os.Stderr))
		},
	}
}

// newAuth wires the stores, the session manager and the configured providers
func newAuth(cfg *config.Config, b *backend, log *slog.Logger) *sa.SecretAuth {
	sessions := sa.NewSessionManager(b.Identities, sa.SessionConfig{
		Lifetime:    cfg.SessionLifetime,
		IdleTimeout: cfg.SessionIdleTimeout,
		Secure:      cfg.SecureCookies,
		Store:       b.Sessions,
	})
	auth := sa.New(b.Identities, sessions)
	auth.Local.BcryptCost = cfg.BcryptCost
	auth.SetLogger(log)

	configure := func(p *oauth2.Provider) *oauth2.Provider {
		p.StateSecret = []byte(cfg.StateSecret)
		p.ExchangeTimeout = cfg.ExchangeTimeout
		p.SecureCookies = cfg.SecureCookies
		return p
	}
	if cfg.GoogleEnabled() {
		auth.AddProvider(configure(oauth2.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL("google"))))
	}
	if cfg.GitHubEnabled() {
		auth.AddProvider(configure(oauth2.NewGitHub(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL("github"))))
	}
	return auth
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("failed to close store", "err", err)
		}
	}()

	auth := newAuth(cfg, b, log)
	app, err := web.NewServer(auth, metrics.New(), log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "providers", auth.Providers(), "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = newGRPCServer(auth.Sessions, log)
		go func() {
			log.Info("grpc server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return httpServer.Shutdown(shutdownCtx)
}

// newGRPCServer gates every method on a session token except the health checks
func newGRPCServer(sessions *sa.SessionManager, log *slog.Logger) *grpc.Server {
	interceptorConfig := sagrpc.NewPublicMethodsConfig(sessions,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	interceptorConfig.Logger = log

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(sagrpc.UnaryAuthInterceptor(interceptorConfig)),
		grpc.ChainStreamInterceptor(sagrpc.StreamAuthInterceptor(interceptorConfig)),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server
}
