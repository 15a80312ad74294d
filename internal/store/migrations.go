package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations is the ordered list of schema migrations for the SQLite backend.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id    TEXT NOT NULL UNIQUE,
	sender        TEXT NOT NULL,
	subject       TEXT NOT NULL,
	body          TEXT NOT NULL,
	status        TEXT NOT NULL,
	ticket_key    TEXT,
	error_message TEXT,
	processed_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_records_processed_at ON processing_records(processed_at);
CREATE INDEX IF NOT EXISTS idx_processing_records_status ON processing_records(status);

CREATE TABLE IF NOT EXISTS system_config (
	id                    INTEGER PRIMARY KEY,
	jira_url              TEXT NOT NULL DEFAULT '',
	jira_email            TEXT NOT NULL DEFAULT '',
	jira_project_key      TEXT NOT NULL DEFAULT '',
	jira_issue_type       TEXT NOT NULL DEFAULT 'Task',
	notification_email    TEXT NOT NULL DEFAULT '',
	poll_interval_minutes INTEGER NOT NULL DEFAULT 10,
	is_running            INTEGER NOT NULL DEFAULT 0,
	last_run_at           DATETIME
);

CREATE TABLE IF NOT EXISTS system_stats (
	id               INTEGER PRIMARY KEY,
	emails_processed INTEGER NOT NULL DEFAULT 0,
	tasks_created    INTEGER NOT NULL DEFAULT 0,
	success_rate     INTEGER NOT NULL DEFAULT 0,
	last_updated     DATETIME NOT NULL
);
`,
	},
}
