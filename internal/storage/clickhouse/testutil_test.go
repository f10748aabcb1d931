package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// One server per package run; each test works in its own database.
var (
	chOnce      sync.Once
	chContainer testcontainers.Container
	chAddr      string
	chStartErr  error
	chDBSeq     atomic.Int64
)

func TestMain(m *testing.M) {
	code := m.Run()
	if chContainer != nil {
		_ = chContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

func startServer() {
	ctx := context.Background()
	chContainer, chStartErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_SKIP_USER_SETUP": "1"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(90*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	if chStartErr != nil {
		return
	}
	host, err := chContainer.Host(ctx)
	if err != nil {
		chStartErr = err
		return
	}
	port, err := chContainer.MappedPort(ctx, "9000")
	if err != nil {
		chStartErr = err
		return
	}
	chAddr = fmt.Sprintf("%s:%s", host, port.Port())
}

// setupTestDB returns a connection to a fresh database with the analytics
// schema applied.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse integration test in short mode")
	}
	chOnce.Do(startServer)
	require.NoError(t, chStartErr, "failed to start clickhouse container")

	ctx := context.Background()
	db := fmt.Sprintf("t%d", chDBSeq.Add(1))
	dsn := fmt.Sprintf("clickhouse://default:@%s/%s", chAddr, db)

	admin, err := NewConnWithDatabase(ctx, dsn, "")
	require.NoError(t, err)
	err = admin.Exec(ctx, "CREATE DATABASE "+db)
	_ = admin.Close()
	require.NoError(t, err)

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)
	applySchema(t, ctx, conn)

	return conn, func() { _ = conn.Close() }
}

// applySchema executes the clickhouse migration files one statement at a time.
func applySchema(t *testing.T, ctx context.Context, conn *Conn) {
	t.Helper()

	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	files, err := filepath.Glob(filepath.Join(filepath.Dir(self), "..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(f)
		require.NoError(t, err)
		for _, stmt := range strings.Split(string(content), ";") {
			if !hasSQL(stmt) {
				continue
			}
			require.NoError(t, conn.Exec(ctx, stmt), "apply %s", filepath.Base(f))
		}
	}
}

// hasSQL reports whether stmt has anything besides comments and blanks.
func hasSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
