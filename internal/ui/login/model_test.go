package login

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/imapauth/internal/keys"
)

func newTestModel(authenticate Authenticator) Model {
	return New(authenticate, keys.DefaultKeyMap(), "@bob:example.com")
}

func isQuit(t *testing.T, cmd tea.Cmd) bool {
	t.Helper()
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestResultOutcome(t *testing.T) {
	assert.Equal(t, "accepted", ResultMsg{UserID: "@bob:example.com"}.Outcome())
	assert.Equal(t, "rejected", ResultMsg{}.Outcome())
	assert.Equal(t, "error", ResultMsg{Err: errors.New("boom")}.Outcome())
}

func TestVerifyRunsAuthenticator(t *testing.T) {
	var gotUser, gotPassword string
	m := newTestModel(func(_ context.Context, userID, password string) (string, error) {
		gotUser, gotPassword = userID, password
		return userID, nil
	})
	m.creds.userID = "  @bob:example.com "
	m.creds.password = "secret"

	msg := m.verify()()

	assert.Equal(t, "@bob:example.com", gotUser)
	assert.Equal(t, "secret", gotPassword)
	assert.Equal(t, ResultMsg{UserID: "@bob:example.com"}, msg)
}

func TestResultMsgSwitchesToResultMode(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeVerifying

	updated, cmd := m.Update(ResultMsg{UserID: "@bob:example.com"})
	got := updated.(Model)

	assert.Nil(t, cmd)
	assert.Equal(t, ModeResult, got.mode)
	assert.Equal(t, "@bob:example.com", got.Result().UserID)
	assert.Contains(t, got.View(), "@bob:example.com")
}

func TestResultScreenEnterQuits(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeResult
	m.result = ResultMsg{UserID: "@bob:example.com"}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.True(t, isQuit(t, cmd))
	assert.False(t, updated.(Model).Aborted())
}

func TestResultScreenRetryAfterRejection(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeResult
	m.creds.password = "wrong"

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	got := updated.(Model)

	require.NotNil(t, cmd)
	assert.Equal(t, ModeForm, got.mode)
	assert.Empty(t, got.creds.password)
	assert.Equal(t, "@bob:example.com", got.creds.userID)
}

func TestResultScreenRetryIgnoredAfterSuccess(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeResult
	m.result = ResultMsg{UserID: "@bob:example.com"}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})

	assert.Nil(t, cmd)
	assert.Equal(t, ModeResult, updated.(Model).mode)
}

func TestCtrlCAbortsWhileVerifying(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeVerifying

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.True(t, isQuit(t, cmd))
	assert.True(t, updated.(Model).Aborted())
}

func TestVerifyingIgnoresOtherKeys(t *testing.T) {
	m := newTestModel(nil)
	m.mode = ModeVerifying

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.Equal(t, ModeVerifying, updated.(Model).mode)
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, validateUserID("@bob:example.com"))
	assert.Error(t, validateUserID(""))
	assert.Error(t, validateUserID("bob@example.com"))
	assert.Error(t, validateUserID("@bob"))
}
