package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	localpart  TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS account_emails (
	user_id  TEXT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
	address  TEXT NOT NULL,
	added_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, address)
);

CREATE TABLE IF NOT EXISTS access_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_tokens_user_id ON access_tokens(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_account_emails_address
	ON account_emails(address COLLATE NOCASE);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
