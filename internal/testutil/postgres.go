//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Marquee/internal/database"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser         = "postgres"
	pgPassword     = "postgres"
	pgMasterDBName = "MARQUEE_DB"
)

// postgresManager templates a single migrated 'master' database in a shared
// postgres container, so each test can be given its own database without
// spawning a container per test. The manager will:
//   - spawn the container on first use,
//   - migrate the master database and mark it as a template, and,
//   - provision new databases based off that master database.
type postgresManager struct {
	*sync.Mutex
	container  *postgres.PostgresContainer
	connection *sql.DB
	host       string
	port       string
}

var pgManager = &postgresManager{Mutex: &sync.Mutex{}}

// NewPostgresTestDB provisions a fresh, migrated Postgres database for the test. The
// connection is closed when the test completes; the shared container lives for the
// remainder of the test binary.
func NewPostgresTestDB(t *testing.T) database.Manager {
	t.Helper()

	name := strings.ToLower(fmt.Sprintf("marquee_%s_%d", sanitise(t.Name()), time.Now().UnixNano()))
	config := pgManager.provisionDB(t, name)

	db := database.New()
	require.NoError(t, db.Connect(config), "failed to connect to provisioned postgres database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("WARNING: failed to close test database: %s", err)
		}
	})

	return db
}

func (manager *postgresManager) provisionDB(t *testing.T, databaseName string) database.DatabaseConfig {
	manager.Lock()
	defer manager.Unlock()

	if manager.connection == nil {
		t.Log("Database provisioning request received but manager not started yet. Initializing database management...")
		manager.spawnPostgres(t)
		manager.markMasterDB(t)
		t.Log("Database management initialised!")
	}

	_, err := manager.connection.Exec(fmt.Sprintf(`CREATE DATABASE "%s" TEMPLATE "%s"`, databaseName, pgMasterDBName))
	if err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != "42P04" {
			t.Fatalf("failed to provision database '%s' from template '%s': (%T) %s", databaseName, pgMasterDBName, err, err)
		}

		t.Logf("Database '%s' already provisioned. Reusing database", databaseName)
	}

	return manager.config(databaseName)
}

func (manager *postgresManager) spawnPostgres(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(pgMasterDBName),
		postgres.WithUsername(pgUser),
		postgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve postgres container host: %s", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve postgres container port: %s", err)
	}

	manager.container = container
	manager.host = host
	manager.port = port.Port()

	// Connect to the 'postgres' maintenance database, as the master
	// database cannot be used as a template while connections are open
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=postgres port=%s sslmode=disable", manager.host, pgUser, pgPassword, manager.port)
	connection, err := sql.Open(database.PostgresDialect, dsn)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %s", err)
	}
	if err := connection.Ping(); err != nil {
		t.Fatalf("failed to ping postgres: %s", err)
	}

	manager.connection = connection
}

// markMasterDB migrates the master database and marks it as a template.
func (manager *postgresManager) markMasterDB(t *testing.T) {
	t.Log("Migrating master database...")
	db := database.New()
	if err := db.Connect(manager.config(pgMasterDBName)); err != nil {
		t.Fatalf("failed to migrate master database: %s", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close master database connection: %s", err)
	}

	if _, err := manager.connection.Exec(fmt.Sprintf(`ALTER DATABASE "%s" WITH is_template TRUE`, pgMasterDBName)); err != nil {
		t.Fatalf("failed to mark master database (%s) as template: %s", pgMasterDBName, err)
	}
}

func (manager *postgresManager) config(databaseName string) database.DatabaseConfig {
	return database.DatabaseConfig{
		Dialect:  database.PostgresDialect,
		User:     pgUser,
		Password: pgPassword,
		Name:     databaseName,
		Host:     manager.host,
		Port:     manager.port,
	}
}

func sanitise(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}

		return '_'
	}, name)
}
