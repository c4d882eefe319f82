package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"autotp/internal/solana"
)

// Tables emptied between tests, children first.
var testTables = []string{"ledger_receipts", "ledger_accounts", "vaults"}

// sharedDB is one migrated container per test binary.
var sharedDB struct {
	once      sync.Once
	container *tcpostgres.PostgresContainer
	dsn       string
	err       error
}

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedDB.container != nil {
		_ = sharedDB.container.Terminate(context.Background())
	}
	os.Exit(code)
}

// setupTestDB returns a pool on an empty, migrated database. The returned
// func closes the pool; the container lives until the binary exits.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test")
	}

	sharedDB.once.Do(startContainer)
	require.NoError(t, sharedDB.err, "postgres container")

	ctx := context.Background()
	pool, err := NewPool(ctx, sharedDB.dsn, PoolOptions{MaxConns: 8})
	require.NoError(t, err)

	for _, table := range testTables {
		_, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}
	return pool, pool.Close
}

func startContainer() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("autotp"),
		tcpostgres.WithUsername("autotp"),
		tcpostgres.WithPassword("autotp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		sharedDB.err = err
		return
	}
	sharedDB.container = c

	if sharedDB.dsn, err = c.ConnectionString(ctx, "sslmode=disable"); err != nil {
		sharedDB.err = err
		return
	}
	sharedDB.err = applySchema(ctx, sharedDB.dsn)
}

// applySchema runs the postgres migration files directly. The migrations
// package imports this one, so its runner is out of reach here.
func applySchema(ctx context.Context, dsn string) error {
	root, err := moduleRoot()
	if err != nil {
		return err
	}
	dir := os.DirFS(filepath.Join(root, "internal", "storage", "migrations", "postgres"))
	files, err := fs.Glob(dir, "*.sql")
	if err != nil {
		return err
	}

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()

	// fs.Glob returns names sorted, so 001_ runs before 002_.
	for _, name := range files {
		sql, err := fs.ReadFile(dir, name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql), pgx.QueryExecModeSimpleProtocol); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0], pk[31] = b, b
	return pk
}
