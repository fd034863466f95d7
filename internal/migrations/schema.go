package migrations

// Schema is the full database schema, applied idempotently at startup.
// message_mappings backs the Mapping Store; retry_tasks backs the Retry &
// Delivery subsystem.
const Schema = `
CREATE TABLE IF NOT EXISTS message_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_platform TEXT NOT NULL,
	source_id TEXT NOT NULL,
	dest_platform TEXT NOT NULL,
	dest_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_platform, source_id),
	UNIQUE (dest_platform, dest_id)
);

CREATE INDEX IF NOT EXISTS idx_mappings_source ON message_mappings (source_platform, source_id);
CREATE INDEX IF NOT EXISTS idx_mappings_dest ON message_mappings (dest_platform, dest_id);
CREATE INDEX IF NOT EXISTS idx_mappings_created ON message_mappings (created_at);

CREATE TABLE IF NOT EXISTS retry_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_platform TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	body TEXT NOT NULL,
	source_platform TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT '',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_retry_state_next ON retry_tasks (state, next_attempt_at);
`

// GetInitialSchema returns the schema to apply on a fresh database.
func GetInitialSchema() (string, error) {
	return Schema, nil
}
