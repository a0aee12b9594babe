package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arloliu/shardgate/types"
)

// PostgresContainer wraps a PostgreSQL test container.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	Node      types.NodeDescriptor
}

// PostgresOptions configures the PostgreSQL container.
type PostgresOptions struct {
	// Image is the PostgreSQL image to use. Defaults to "postgres:16-alpine".
	Image    string
	Database string
	User     string
	Password string
	// MaxPreparedTransactions enables two-phase commit. Defaults to 16.
	MaxPreparedTransactions int
}

// DefaultPostgresOptions returns default options for PostgreSQL containers.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{
		Image:                   "postgres:16-alpine",
		Database:                "shardgate",
		User:                    "shardgate",
		Password:                "shardgate",
		MaxPreparedTransactions: 16,
	}
}

// StartPostgres starts a PostgreSQL container with prepared transactions
// enabled. The test is skipped when no container runtime is available.
//
// The container is automatically terminated when the test completes.
//
// Parameters:
//   - ctx: Context for container operations
//   - t: Testing context for cleanup registration
//   - opts: Optional configuration (nil uses defaults)
//
// Returns:
//   - *PostgresContainer: Container with the node descriptor to reach it
//   - error: Error if the container fails to start
func StartPostgres(ctx context.Context, t *testing.T, opts *PostgresOptions) (*PostgresContainer, error) {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	if opts == nil {
		defaultOpts := DefaultPostgresOptions()
		opts = &defaultOpts
	}

	container, err := postgres.Run(ctx, opts.Image,
		postgres.WithDatabase(opts.Database),
		postgres.WithUsername(opts.User),
		postgres.WithPassword(opts.Password),
		testcontainers.WithCmd("postgres",
			"-c", "fsync=off",
			"-c", fmt.Sprintf("max_prepared_transactions=%d", opts.MaxPreparedTransactions),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		Node: types.NodeDescriptor{
			Host:     host,
			Port:     port.Int(),
			Database: opts.Database,
			User:     opts.User,
			Password: opts.Password,
			TLS:      types.TLSConfig{Mode: types.TLSDisable},
		},
	}, nil
}

// StartPostgresCluster starts n independent PostgreSQL containers, one per
// node of a coordinator/worker layout.
func StartPostgresCluster(ctx context.Context, t *testing.T, n int) ([]*PostgresContainer, error) {
	t.Helper()

	out := make([]*PostgresContainer, 0, n)
	for i := range n {
		c, err := StartPostgres(ctx, t, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to start node %d: %w", i, err)
		}
		out = append(out, c)
	}

	return out, nil
}
