// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/casematch/internal/db"
)

// Image is the Postgres image used by integration tests.
const Image = "postgres:16-alpine"

// Open returns a migrated database for t. DATABASE_URL, when set, points at
// an existing server; otherwise a container is started and terminated when
// the test ends. Tests are skipped if neither is available.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		container, err := postgres.Run(ctx, Image,
			postgres.WithDatabase("casematch"),
			postgres.WithUsername("casematch"),
			postgres.WithPassword("casematch"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate postgres container: %v", err)
			}
		})

		url, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("failed to get connection string: %v", err)
		}
	}

	conn, err := db.Open(ctx, url, db.Options{Migrate: true})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Truncate empties tables between tests.
func Truncate(t *testing.T, conn *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := conn.Exec(`TRUNCATE ` + table + ` CASCADE`); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
