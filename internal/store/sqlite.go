package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/imapauth/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db         *sqlx.DB
	serverName string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations. Registered
// accounts get user ids of the form "@localpart:serverName".
func NewSQLiteStore(dbPath, serverName string) (*SQLiteStore, error) {
	if serverName == "" {
		return nil, errors.New("server name must not be empty")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, serverName: serverName}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ServerName returns the domain used for newly registered user ids.
func (s *SQLiteStore) ServerName() string {
	return s.serverName
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CheckUserExists reports whether an account with userID exists.
func (s *SQLiteStore) CheckUserExists(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM accounts WHERE user_id = ?", userID)
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", userID, err)
	}
	return count > 0, nil
}

// Register creates an account for localpart, binds emails to it and
// issues an access token, all in one transaction.
func (s *SQLiteStore) Register(
	ctx context.Context,
	localpart string,
	emails []string,
) (string, string, error) {
	if !validLocalpart(localpart) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocalpart, localpart)
	}
	userID := "@" + localpart + ":" + s.serverName

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM accounts WHERE user_id = ?", userID); err != nil {
		return "", "", fmt.Errorf("checking user %s: %w", userID, err)
	}
	if count > 0 {
		return "", "", fmt.Errorf("registering %s: %w", userID, ErrUserExists)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO accounts (user_id, localpart, created_at) VALUES (?, ?, ?)",
		userID, localpart, now,
	)
	if err != nil {
		return "", "", fmt.Errorf("creating account %s: %w", userID, err)
	}

	for _, address := range emails {
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO account_emails (user_id, address, added_at) VALUES (?, ?, ?)",
			userID, address, now,
		)
		if err != nil {
			return "", "", fmt.Errorf("binding %s to %s: %w", address, userID, err)
		}
	}

	token := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO access_tokens (token, user_id, created_at) VALUES (?, ?, ?)",
		token, userID, now,
	)
	if err != nil {
		return "", "", fmt.Errorf("issuing token for %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("committing registration of %s: %w", userID, err)
	}

	return userID, token, nil
}

// GetAccount retrieves a single account with its email addresses.
func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := s.db.GetContext(ctx, &account,
		"SELECT user_id, localpart, created_at FROM accounts WHERE user_id = ?", userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", userID, err)
	}

	err = s.db.SelectContext(ctx, &account.Emails,
		"SELECT address FROM account_emails WHERE user_id = ? ORDER BY address", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting emails of %s: %w", userID, err)
	}

	return &account, nil
}

// ListAccounts retrieves all accounts ordered by user id.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT user_id, localpart, created_at FROM accounts ORDER BY user_id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}

	var rows []struct {
		UserID  string `db:"user_id"`
		Address string `db:"address"`
	}
	err = s.db.SelectContext(ctx, &rows,
		"SELECT user_id, address FROM account_emails ORDER BY user_id, address",
	)
	if err != nil {
		return nil, fmt.Errorf("querying account emails: %w", err)
	}

	byUser := make(map[string][]string, len(accounts))
	for _, r := range rows {
		byUser[r.UserID] = append(byUser[r.UserID], r.Address)
	}
	for i := range accounts {
		accounts[i].Emails = byUser[accounts[i].UserID]
	}

	return accounts, nil
}

// UserIDForEmail returns the user id bound to address, compared
// case-insensitively.
func (s *SQLiteStore) UserIDForEmail(ctx context.Context, address string) (string, error) {
	var userID string
	err := s.db.GetContext(ctx, &userID,
		"SELECT user_id FROM account_emails WHERE address = ? COLLATE NOCASE LIMIT 1", address,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up %s: %w", address, ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", address, err)
	}
	return userID, nil
}

// validLocalpart rejects empty local parts and ones that would make the
// user id ambiguous.
func validLocalpart(localpart string) bool {
	return localpart != "" && !strings.ContainsAny(localpart, ":@ \t\r\n")
}
