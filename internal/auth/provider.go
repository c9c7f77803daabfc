// Package auth validates passwords against an IMAP server and maps the
// mailbox owner onto an account in the host identity system, registering
// one on first login when configured to.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/imapauth/internal/mailbox"
	"github.com/nhle/imapauth/internal/model"
)

// Medium is the kind of third-party identifier used to log in.
type Medium string

// MediumEmail is the only medium the provider accepts.
const MediumEmail Medium = "email"

// AccountHandler is the host account directory.
type AccountHandler interface {
	// CheckUserExists reports whether userID has an account.
	CheckUserExists(ctx context.Context, userID string) (bool, error)

	// Register creates an account for localpart with the given email
	// addresses and returns the new user id and an access token.
	Register(ctx context.Context, localpart string, emails []string) (userID, accessToken string, err error)
}

// Provider checks passwords against an IMAP server.
//
// Every check returns the resolved user id on success and "" when the
// credentials do not match. An error is returned only when the host
// account directory fails.
type Provider struct {
	cfg      model.ProviderConfig
	dialer   mailbox.Dialer
	accounts AccountHandler
	logger   *slog.Logger
}

// NewProvider creates a provider. cfg is copied and never modified.
func NewProvider(
	cfg model.ProviderConfig,
	dialer mailbox.Dialer,
	accounts AccountHandler,
	logger *slog.Logger,
) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:      cfg,
		dialer:   dialer,
		accounts: accounts,
		logger:   logger.With("component", "imap_auth"),
	}
}

// CheckPassword authenticates userID, of the form "@localpart:domain",
// with password.
func (p *Provider) CheckPassword(ctx context.Context, userID, password string) (string, error) {
	if !p.cfg.Enabled {
		p.logger.DebugContext(ctx, "Provider disabled, skipping", "user_id", userID)
		return "", nil
	}
	if userID == "" || password == "" {
		return "", nil
	}

	id, err := ParseUserID(userID)
	if err != nil {
		p.logger.DebugContext(ctx, "Rejecting login", "user_id", userID, "error", err)
		return "", nil
	}

	address := id.Email()
	if p.cfg.PlainUserID {
		address = id.Localpart
	}

	return p.check3PID(ctx, MediumEmail, address, password, id.String(), id.Localpart)
}

// Check3PIDAuth authenticates a third-party identifier login. Only the
// email medium is supported; address is used verbatim as the IMAP user.
func (p *Provider) Check3PIDAuth(ctx context.Context, medium Medium, address, password string) (string, error) {
	if !p.cfg.Enabled {
		p.logger.DebugContext(ctx, "Provider disabled, skipping", "address", address)
		return "", nil
	}
	return p.check3PID(ctx, medium, address, password, "", "")
}

// check3PID runs the IMAP round trip and resolves the host account.
// userID and localpart may be empty, in which case they are guessed from
// address after the IMAP login succeeded.
func (p *Provider) check3PID(
	ctx context.Context,
	medium Medium,
	address, password string,
	userID, localpart string,
) (string, error) {
	if address == "" || password == "" {
		return "", nil
	}
	if medium != MediumEmail {
		p.logger.DebugContext(ctx, "Unsupported 3PID medium", "medium", medium)
		return "", nil
	}

	if !p.imapLogin(ctx, address, password) {
		return "", nil
	}

	if localpart == "" {
		localpart = GuessLocalpart(address)
		if localpart == "" {
			p.logger.DebugContext(ctx, "No localpart can be guessed", "address", address)
			return "", nil
		}
		p.logger.DebugContext(ctx, "Guessed localpart", "address", address, "localpart", localpart)
	}

	if userID == "" {
		domain, ok := GuessDomain(address, p.cfg.AppendDomain)
		if !ok {
			p.logger.DebugContext(ctx, "No domain can be guessed", "address", address)
			return "", nil
		}
		p.logger.DebugContext(ctx, "Guessed domain", "address", address, "domain", domain)
		userID = UserID{Localpart: localpart, Domain: domain}.String()
	}

	p.logger.DebugContext(ctx, "IMAP login successful, checking account", "user_id", userID)

	exists, err := p.accounts.CheckUserExists(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("checking whether %s exists: %w", userID, err)
	}
	if exists {
		p.logger.DebugContext(ctx, "Account exists, login successful", "user_id", userID, "address", address)
		return userID, nil
	}

	p.logger.DebugContext(ctx, "Account not found", "user_id", userID)
	if !p.cfg.CreateUsers {
		return "", nil
	}

	email, err := registrationEmail(address, userID)
	if err != nil {
		p.logger.DebugContext(ctx, "No valid email for registration", "user_id", userID, "error", err)
		return "", nil
	}

	p.logger.DebugContext(ctx, "Registering account", "user_id", userID, "email", email)

	newID, _, err := p.accounts.Register(ctx, localpart, []string{email})
	if err != nil {
		return "", fmt.Errorf("registering %s: %w", userID, err)
	}

	p.logger.InfoContext(ctx, "Account created", "user_id", newID)
	return newID, nil
}

// imapLogin performs a single LOGIN and, only if it succeeded, a LOGOUT.
func (p *Provider) imapLogin(ctx context.Context, address, password string) bool {
	log := p.logger.With("address", address, "server", p.cfg.Server, "port", p.cfg.Port)
	log.DebugContext(ctx, "Trying IMAP login")

	sess, err := p.dialer.Dial(ctx)
	if err != nil {
		log.DebugContext(ctx, "IMAP connection failed", "error", err)
		return false
	}
	defer sess.Close()

	if err := sess.Login(address, password); err != nil {
		if mailbox.IsLoginError(err) {
			log.DebugContext(ctx, "IMAP login failed", "error", err)
		} else {
			log.DebugContext(ctx, "IMAP exception occurred", "error", err)
		}
		return false
	}

	if err := sess.Logout(); err != nil {
		log.DebugContext(ctx, "IMAP logout failed", "error", err)
	}
	return true
}

// registrationEmail picks the address to bind to a new account: address
// itself when it is email-shaped, otherwise one rebuilt from userID. A port
// on the domain is dropped.
func registrationEmail(address, userID string) (string, error) {
	email := address
	if !strings.Contains(address, "@") {
		id, err := ParseUserID(userID)
		if err != nil {
			return "", err
		}
		email = id.Email()
	}
	if i := strings.LastIndex(email, "@"); i >= 0 {
		email = email[:i+1] + StripPort(email[i+1:])
	}

	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", email, err)
	}
	return parsed.Address, nil
}
