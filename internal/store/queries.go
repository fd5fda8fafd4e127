package store

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	user_a_id TEXT NOT NULL,
	user_b_id TEXT NOT NULL,
	match_type TEXT NOT NULL DEFAULT 'standard',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	match_id TEXT NOT NULL REFERENCES matches(id),
	user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	content TEXT,
	media_path TEXT,
	media_type TEXT,
	media_expired BOOLEAN NOT NULL DEFAULT 0,
	media_expires_at TIMESTAMP,
	media_viewed_at TIMESTAMP,
	delivered_at TIMESTAMP,
	read_at TIMESTAMP,
	deleted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_match_created
	ON messages(match_id, created_at DESC);

CREATE TABLE IF NOT EXISTS message_deletions (
	user_id TEXT NOT NULL,
	message_id TEXT NOT NULL REFERENCES messages(id),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, message_id)
);

CREATE TABLE IF NOT EXISTS feature_flags (
	name TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0
);
`

// Match queries
const (
	insertMatchQuery = `
		INSERT INTO matches (id, user_a_id, user_b_id, match_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	selectMatchQuery = `
		SELECT id, user_a_id, user_b_id, match_type, created_at
		FROM matches
		WHERE id = ?
	`
)

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			id, match_id, user_id, created_at, content,
			media_path, media_type, media_expired, media_expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectMessagesByMatchQuery = `
		SELECT id, match_id, user_id, created_at, content,
		       media_path, media_type, media_expired, media_expires_at,
		       media_viewed_at, delivered_at, read_at, deleted_at
		FROM messages
		WHERE match_id = ?
		ORDER BY created_at DESC, id DESC
	`

	selectMessageQuery = `
		SELECT id, match_id, user_id, created_at, content,
		       media_path, media_type, media_expired, media_expires_at,
		       media_viewed_at, delivered_at, read_at, deleted_at
		FROM messages
		WHERE id = ?
	`
)

// Deletion queries
const (
	insertDeletionQuery = `
		INSERT OR IGNORE INTO message_deletions (user_id, message_id, created_at)
		VALUES (?, ?, ?)
	`

	selectDeletionsByUserQuery = `
		SELECT user_id, message_id, created_at
		FROM message_deletions
		WHERE user_id = ?
		ORDER BY created_at
	`
)

// Flag queries
const (
	upsertFlagQuery = `
		INSERT OR REPLACE INTO feature_flags (name, enabled) VALUES (?, ?)
	`

	selectFlagQuery = `
		SELECT enabled FROM feature_flags WHERE name = ?
	`
)
