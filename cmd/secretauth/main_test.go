package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/panyam/secretauth/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	cfg.StoreDriver = driver
	cfg.DataDir = t.TempDir()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "secretauth.db")
	cfg.BcryptCost = 4
	return cfg
}

func TestOpenBackend(t *testing.T) {
	for _, driver := range []string{config.DriverFS, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			cfg := testConfig(t, driver)
			log := cfg.NewLogger(os.Stderr)

			b, err := openBackend(ctx, cfg, log)
			require.NoError(t, err)
			defer b.Close()
			if driver == config.DriverFS {
				assert.Nil(t, b.Sessions)
			} else {
				assert.NotNil(t, b.Sessions)
			}

			auth := newAuth(cfg, b, log)
			created, err := auth.Local.Register(ctx, "alice", "password123")
			require.NoError(t, err)
			found, err := auth.Local.Verify(ctx, "alice", "password123")
			require.NoError(t, err)
			assert.Equal(t, created.ID, found.ID)
		})
	}
}

func TestNewAuthProviders(t *testing.T) {
	cfg := testConfig(t, config.DriverFS)
	cfg.GitHubClientID, cfg.GitHubClientSecret = "id", "secret"

	b, err := openBackend(context.Background(), cfg, cfg.NewLogger(os.Stderr))
	require.NoError(t, err)
	auth := newAuth(cfg, b, cfg.NewLogger(os.Stderr))
	assert.Equal(t, []string{"github"}, auth.Providers())
}

func TestGRPCServerHealthIsPublic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverFS)
	log := cfg.NewLogger(os.Stderr)
	b, err := openBackend(ctx, cfg, log)
	require.NoError(t, err)
	auth := newAuth(cfg, b, log)

	lis := bufconn.Listen(1 << 20)
	server := newGRPCServer(auth.Sessions, log)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
