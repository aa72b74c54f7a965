package store

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
	`CREATE TABLE IF NOT EXISTS request_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		auth_result TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		request_bytes INTEGER NOT NULL DEFAULT 0,
		response_bytes INTEGER NOT NULL DEFAULT 0,
		raw_body TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_request_log_created_at ON request_log(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_request_log_service_method ON request_log(service, method);`,
}

type columnUpgrade struct {
	table      string
	column     string
	definition string
}

// columnUpgrades are applied after schemaStatements to databases created by
// older builds.
var columnUpgrades = []columnUpgrade{
	{"request_log", "fault_subcode", "TEXT NOT NULL DEFAULT ''"},
	{"request_log", "duration_ms", "INTEGER NOT NULL DEFAULT 0"},
}
