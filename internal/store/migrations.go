package store

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_runs (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		campaign_name TEXT NOT NULL DEFAULT '',
		total_count INTEGER NOT NULL DEFAULT 0,
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_runs_campaign ON campaign_runs(campaign_id)`,

	`CREATE TABLE IF NOT EXISTS campaign_messages (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		server_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_messages_run ON campaign_messages(run_id)`,

	`CREATE TABLE IF NOT EXISTS poll_results (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		poll_message_id TEXT NOT NULL,
		question TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	)`,
}
