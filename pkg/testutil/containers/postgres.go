//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema provisions the tables the relational stores and the source adapter
// expect. Integration tests create them per container; production tables are
// provisioned by the ingestion jobs.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id        UUID PRIMARY KEY,
	change_id TEXT NOT NULL,
	step      TEXT NOT NULL,
	action    TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	seq       BIGINT NOT NULL,
	details   JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_events_change ON audit_events (change_id, timestamp, seq);

CREATE TABLE IF NOT EXISTS exceptions (
	id             UUID PRIMARY KEY,
	change_id      TEXT NOT NULL,
	rule_name      TEXT NOT NULL,
	reason_code    TEXT NOT NULL,
	status         TEXT NOT NULL,
	recommendation TEXT,
	justification  TEXT,
	justified_by   TEXT,
	raised_at      TIMESTAMPTZ NOT NULL,
	justified_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_exceptions_change ON exceptions (change_id, raised_at);

CREATE TABLE IF NOT EXISTS itsm_approvals (
	change_id       TEXT NOT NULL,
	approval_status TEXT NOT NULL,
	approver_id     TEXT NOT NULL,
	approval_group  TEXT NOT NULL,
	approval_time   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cicd_deployments (
	change_id     TEXT NOT NULL,
	deployment_id TEXT NOT NULL,
	pipeline_id   TEXT NOT NULL,
	deployer_id   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_records (
	change_id     TEXT NOT NULL,
	retention_ref TEXT NOT NULL,
	retention_id  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cab_minutes (
	change_id    TEXT NOT NULL,
	meeting_ref  TEXT NOT NULL,
	decision_ref TEXT NOT NULL,
	decided_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS doa_register (
	approver_id    TEXT NOT NULL,
	effective_from TIMESTAMPTZ NOT NULL,
	effective_to   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS itsm_dashboard (
	change_id      TEXT PRIMARY KEY,
	change_wi      TEXT NOT NULL,
	ci_link        TEXT NOT NULL,
	asset_name     TEXT NOT NULL DEFAULT '',
	change_type    TEXT NOT NULL DEFAULT '',
	risk_rating    TEXT NOT NULL DEFAULT '',
	requestor_id   TEXT NOT NULL DEFAULT '',
	developer_id   TEXT NOT NULL DEFAULT '',
	implemented_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
);
`

// PostgresContainer wraps a testcontainers Postgres instance with an open
// handle and the schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("changegate"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables removes all rows from the given tables. Use between tests to
// ensure isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", ")))
	return err
}
