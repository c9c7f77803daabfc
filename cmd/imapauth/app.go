package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nhle/imapauth/internal/auth"
	"github.com/nhle/imapauth/internal/credential"
	"github.com/nhle/imapauth/internal/logging"
	"github.com/nhle/imapauth/internal/mailbox"
	"github.com/nhle/imapauth/internal/model"
	"github.com/nhle/imapauth/internal/store"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *model.AppConfig
	logger   *slog.Logger
	store    *store.SQLiteStore
	vault    *credential.Vault
	provider *auth.Provider
	closers  []io.Closer
}

// newApp opens the account directory and the token vault and builds the
// provider from cfg. The vault is optional; without it tokens of newly
// registered accounts are not persisted.
func newApp(cfg *model.AppConfig) (*app, error) {
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.store, err = store.NewSQLiteStore(cfg.Database.Path, cfg.Homeserver.ServerName)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening account directory: %w", err)
	}
	a.closers = append(a.closers, a.store)

	a.vault, err = credential.Open(cfg.Keyring)
	if err != nil {
		logger.Warn("Token vault unavailable, access tokens will not be saved", "error", err)
		a.vault = nil
	}

	providerCfg, err := hostProviderConfig(cfg.Provider, a.store.ServerName())
	if err != nil {
		a.Close()
		return nil, err
	}

	accounts := &tokenSavingAccounts{Store: a.store, vault: a.vault, logger: logger}
	a.provider = auth.NewProvider(providerCfg, mailbox.NewIMAPDialerFromConfig(providerCfg), accounts, logger)
	return a, nil
}

// hostProviderConfig pins the domain of guessed 3PID user ids to the
// server name, since Register only mints ids on that domain.
func hostProviderConfig(cfg model.ProviderConfig, serverName string) (model.ProviderConfig, error) {
	switch cfg.AppendDomain {
	case "":
		cfg.AppendDomain = serverName
	case serverName:
	default:
		return cfg, fmt.Errorf("imap_auth.append_domain %q must match homeserver.server_name %q",
			cfg.AppendDomain, serverName)
	}
	return cfg, nil
}

// checkPassword authenticates userID through the provider. Identifiers on
// a domain other than the server name are not ours and never match.
func (a *app) checkPassword(ctx context.Context, userID, password string) (string, error) {
	if id, err := auth.ParseUserID(userID); err == nil && id.Domain != a.store.ServerName() {
		a.logger.DebugContext(ctx, "User id belongs to another server, skipping",
			"user_id", userID, "server_name", a.store.ServerName())
		return "", nil
	}
	return a.provider.CheckPassword(ctx, userID, password)
}

// forgetToken removes the saved access token of userID from the vault.
func (a *app) forgetToken(userID string) error {
	if a.vault == nil {
		return errors.New("token vault unavailable")
	}
	return a.vault.DeleteAccessToken(userID)
}

// Close releases the store and the log file in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// tokenSavingAccounts stores the access token of every newly registered
// account in the vault.
type tokenSavingAccounts struct {
	store.Store
	vault  *credential.Vault
	logger *slog.Logger
}

func (t *tokenSavingAccounts) Register(ctx context.Context, localpart string, emails []string) (string, string, error) {
	userID, token, err := t.Store.Register(ctx, localpart, emails)
	if err != nil {
		return "", "", err
	}
	if t.vault != nil {
		if err := t.vault.SaveAccessToken(userID, token); err != nil {
			t.logger.WarnContext(ctx, "Could not save access token", "user_id", userID, "error", err)
		}
	}
	return userID, token, nil
}
