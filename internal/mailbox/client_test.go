package mailbox

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/imapauth/internal/model"
)

// startMemServer runs an in-process IMAP server with a single user and
// returns a dialer pointed at it.
func startMemServer(t *testing.T, username, password string) *IMAPDialer {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(username, password)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return NewIMAPDialer("127.0.0.1", addr.Port, model.SecurityInsecure)
}

func TestIMAPDialerLoginAndLogout(t *testing.T) {
	dialer := startMemServer(t, "bob@example.com", "hunter2")

	sess, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Login("bob@example.com", "hunter2"))
	assert.NoError(t, sess.Logout())
}

func TestIMAPDialerRejectedLogin(t *testing.T) {
	dialer := startMemServer(t, "bob@example.com", "hunter2")

	sess, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Login("bob@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsLoginError(err), "got %v", err)
}

func TestIMAPDialerConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	dialer := NewIMAPDialer("127.0.0.1", port, model.SecurityInsecure)
	_, err = dialer.Dial(context.Background())
	require.Error(t, err)
	assert.False(t, IsLoginError(err))
}

func TestIMAPDialerCanceledContext(t *testing.T) {
	dialer := NewIMAPDialer("127.0.0.1", 993, model.SecurityTLS)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dialer.Dial(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestIMAPDialerAddr(t *testing.T) {
	cfg := model.ProviderConfig{Server: "imap.example.com", Port: 993, Security: model.SecurityTLS}
	assert.Equal(t, "imap.example.com:993", NewIMAPDialerFromConfig(cfg).Addr())
}

func TestLoginErrorUnwraps(t *testing.T) {
	inner := &imap.Error{Type: imap.StatusResponseTypeNo, Text: "bad credentials"}
	err := error(&LoginError{Username: "bob", Err: inner})

	var imapErr *imap.Error
	require.True(t, errors.As(err, &imapErr))
	assert.Equal(t, "bad credentials", imapErr.Text)
	assert.Contains(t, err.Error(), "bob")
}
