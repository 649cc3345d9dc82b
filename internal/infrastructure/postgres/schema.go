package postgres

// Schema is the full DDL for a fresh database. Schema management stays
// a single documented string a deploy script can feed to psql once,
// rather than a migrations/ directory and a runner dependency nothing
// else in the stack needs. Primary keys are 16-byte uuid columns
// populated client-side with time-ordered UUIDv7 values, so PK order
// approximates insertion order and index locality stays tight.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id                        UUID PRIMARY KEY,
	name                      TEXT NOT NULL,
	tier                      TEXT NOT NULL DEFAULT 'free',
	webhook_secret            BYTEA NOT NULL,
	notification_email       TEXT,
	notification_webhook_url TEXT,
	monthly_execution_count  INTEGER NOT NULL DEFAULT 0,
	quota_month              DATE NOT NULL DEFAULT date_trunc('month', now()),
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS endpoints (
	id              UUID PRIMARY KEY,
	organization_id UUID NOT NULL REFERENCES organizations(id),
	slug            TEXT NOT NULL UNIQUE,
	enabled         BOOLEAN NOT NULL DEFAULT true,
	forward_urls    TEXT[] NOT NULL,
	retry_attempts  INTEGER NOT NULL DEFAULT 3,
	queue_name      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id                 UUID PRIMARY KEY,
	organization_id    UUID NOT NULL REFERENCES organizations(id),
	name               TEXT NOT NULL DEFAULT '',
	method             TEXT NOT NULL,
	url                TEXT NOT NULL,
	headers            JSONB NOT NULL DEFAULT '{}',
	body               TEXT,
	timeout_seconds    INTEGER NOT NULL DEFAULT 30,
	retry_attempts     INTEGER NOT NULL DEFAULT 3,
	schedule_type      TEXT NOT NULL,
	cron_expr          TEXT NOT NULL DEFAULT '',
	interval_minutes   INTEGER,
	scheduled_at       TIMESTAMPTZ,
	next_run_at        TIMESTAMPTZ,
	enabled            BOOLEAN NOT NULL DEFAULT true,
	queue_name         TEXT,
	callback_url       TEXT,
	deleted_at         TIMESTAMPTZ,
	endpoint_id        UUID REFERENCES endpoints(id),
	last_execution_at  TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (next_run_at)
	WHERE enabled AND deleted_at IS NULL AND next_run_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_org ON tasks (organization_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS executions (
	id                   UUID PRIMARY KEY,
	task_id              UUID NOT NULL REFERENCES tasks(id),
	attempt              INTEGER NOT NULL DEFAULT 1,
	scheduled_for        TIMESTAMPTZ NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	started_at           TIMESTAMPTZ,
	finished_at          TIMESTAMPTZ,
	duration_ms          BIGINT,
	response_status_code INTEGER,
	response_body        TEXT,
	error_message        TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_executions_claim ON executions (scheduled_for)
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions (task_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_executions_stale ON executions (started_at)
	WHERE status = 'running';

CREATE TABLE IF NOT EXISTS inbound_events (
	id          UUID PRIMARY KEY,
	endpoint_id UUID NOT NULL REFERENCES endpoints(id),
	method      TEXT NOT NULL,
	headers     JSONB NOT NULL DEFAULT '{}',
	body        TEXT NOT NULL,
	source_ip   TEXT NOT NULL,
	task_ids    UUID[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_inbound_events_endpoint ON inbound_events (endpoint_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS monitors (
	id                UUID PRIMARY KEY,
	organization_id   UUID NOT NULL REFERENCES organizations(id),
	name              TEXT NOT NULL,
	token             TEXT NOT NULL UNIQUE,
	interval_seconds  INTEGER NOT NULL DEFAULT 0,
	cron_expr         TEXT,
	grace_seconds     INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'new',
	last_ping_at      TIMESTAMPTZ,
	last_status_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	next_expected_at  TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS monitor_pings (
	id                UUID PRIMARY KEY,
	monitor_id        UUID NOT NULL REFERENCES monitors(id),
	source_ip         TEXT NOT NULL,
	interval_seconds  INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_monitor_pings_monitor ON monitor_pings (monitor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key        TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS email_logs (
	id              UUID PRIMARY KEY,
	organization_id UUID NOT NULL REFERENCES organizations(id),
	recipient       TEXT NOT NULL,
	subject         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_email_logs_created ON email_logs (created_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id              UUID PRIMARY KEY,
	organization_id UUID REFERENCES organizations(id),
	method          TEXT NOT NULL,
	path            TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	source_ip       TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs (created_at);
`

// Advisory lock IDs. Each leader-elected subsystem gets its own fixed
// key so the three loops never contend with one another.
const (
	LockIDScheduler    int64 = 9001
	LockIDMonitorCheck int64 = 9002
	LockIDCleanup      int64 = 9003
)
