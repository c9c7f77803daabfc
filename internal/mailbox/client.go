package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/imapauth/internal/model"
)

// Session is a single IMAP connection that has not authenticated yet.
type Session interface {
	// Login issues LOGIN. A rejection by the server is a *LoginError.
	Login(username, password string) error

	// Logout issues LOGOUT.
	Logout() error

	// Close tears down the connection without further commands.
	Close() error
}

// Dialer opens IMAP sessions against a fixed server.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// IMAPDialer opens go-imap v2 sessions.
type IMAPDialer struct {
	host     string
	port     int
	security model.Security
	tls      *tls.Config
}

// NewIMAPDialer creates a dialer for host:port using the given security
// mode.
func NewIMAPDialer(host string, port int, security model.Security) *IMAPDialer {
	return &IMAPDialer{
		host:     host,
		port:     port,
		security: security,
		tls:      &tls.Config{ServerName: host},
	}
}

// NewIMAPDialerFromConfig creates a dialer from the provider options.
func NewIMAPDialerFromConfig(cfg model.ProviderConfig) *IMAPDialer {
	return NewIMAPDialer(cfg.Server, cfg.Port, cfg.Security)
}

// Addr returns the host:port the dialer connects to.
func (d *IMAPDialer) Addr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

// Dial connects to the server and waits for its greeting. The context
// bounds the TCP connect and the TLS handshake.
func (d *IMAPDialer) Dial(ctx context.Context) (Session, error) {
	addr := d.Addr()

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	var client *imapclient.Client
	switch d.security {
	case model.SecurityTLS:
		tlsConn := tls.Client(conn, d.tls)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
		}
		client = imapclient.New(tlsConn, nil)
	case model.SecurityStartTLS:
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: d.tls})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS with %s: %w", addr, err)
		}
	case model.SecurityInsecure:
		client = imapclient.New(conn, nil)
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown IMAP security mode %q", d.security)
	}

	if err := client.WaitGreeting(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("waiting for greeting from %s: %w", addr, err)
	}

	return &imapSession{client: client}, nil
}

// imapSession adapts *imapclient.Client to Session.
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Login(username, password string) error {
	err := s.client.Login(username, password).Wait()
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &LoginError{Username: username, Err: imapErr}
	}
	return fmt.Errorf("LOGIN as %s: %w", username, err)
}

func (s *imapSession) Logout() error {
	if err := s.client.Logout().Wait(); err != nil {
		return fmt.Errorf("LOGOUT: %w", err)
	}
	return nil
}

func (s *imapSession) Close() error {
	return s.client.Close()
}
