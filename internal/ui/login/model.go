package login

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/imapauth/internal/auth"
	"github.com/nhle/imapauth/internal/keys"
	"github.com/nhle/imapauth/internal/theme"
)

// Mode represents the current state of the login screen.
type Mode int

const (
	ModeForm      Mode = iota // Entering credentials
	ModeVerifying             // Waiting for the IMAP round trip
	ModeResult                // Showing the outcome
)

// Authenticator checks a user id and password. It returns the resolved
// user id, "" for no match, or an error for host failures.
type Authenticator func(ctx context.Context, userID, password string) (string, error)

// ResultMsg carries the outcome of an authentication attempt.
type ResultMsg struct {
	UserID string
	Err    error
}

// Outcome classifies the result as "accepted", "rejected" or "error".
func (r ResultMsg) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.UserID != "":
		return "accepted"
	default:
		return "rejected"
	}
}

// credentials holds the form fields. It lives behind a pointer so the huh
// bindings stay valid across Model copies.
type credentials struct {
	userID   string
	password string
}

// Model is the Bubble Tea model for the interactive login.
type Model struct {
	mode         Mode
	form         *huh.Form
	creds        *credentials
	authenticate Authenticator

	spinner spinner.Model
	help    help.Model
	keys    *keys.KeyMap

	result  ResultMsg
	aborted bool
	width   int
}

// New creates a login model. userID pre-fills the identifier field.
func New(authenticate Authenticator, k *keys.KeyMap, userID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.SpinnerStyle

	m := Model{
		mode:         ModeForm,
		creds:        &credentials{userID: userID},
		authenticate: authenticate,
		spinner:      sp,
		help:         help.New(),
		keys:         k,
		width:        60,
	}
	m.form = m.buildForm()
	return m
}

// Init starts the credential form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Result returns the last authentication outcome.
func (m Model) Result() ResultMsg {
	return m.result
}

// Aborted reports whether the user left without authenticating.
func (m Model) Aborted() bool {
	return m.aborted
}

// Update handles messages and dispatches based on current mode.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case ResultMsg:
		m.result = msg
		m.mode = ModeResult
		return m, nil

	case spinner.TickMsg:
		if m.mode == ModeVerifying {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.aborted = m.mode != ModeResult
			return m, tea.Quit
		}
		switch m.mode {
		case ModeVerifying:
			return m, nil
		case ModeResult:
			return m.handleResultKeys(msg)
		}
	}

	if m.mode == ModeForm {
		return m.updateForm(msg)
	}
	return m, nil
}

// handleResultKeys processes key events on the result screen.
func (m Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm), key.Matches(msg, m.keys.Back):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Retry):
		if m.result.Outcome() == "accepted" {
			return m, nil
		}
		m.creds.password = ""
		m.result = ResultMsg{}
		m.mode = ModeForm
		m.form = m.buildForm()
		return m, m.form.Init()
	}
	return m, nil
}

// updateForm forwards msg to the form and starts verification once it
// completes.
func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.mode = ModeVerifying
		return m, tea.Batch(m.spinner.Tick, m.verify())
	case huh.StateAborted:
		m.aborted = true
		return m, tea.Quit
	}
	return m, cmd
}

// verify returns a command that runs the authenticator with the entered
// credentials.
func (m Model) verify() tea.Cmd {
	authenticate := m.authenticate
	userID := strings.TrimSpace(m.creds.userID)
	password := m.creds.password
	return func() tea.Msg {
		resolved, err := authenticate(context.Background(), userID, password)
		return ResultMsg{UserID: resolved, Err: err}
	}
}

func (m Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Description("Your identifier, e.g. @bob:example.com").
				Placeholder("@localpart:domain").
				Value(&m.creds.userID).
				Validate(validateUserID),
			huh.NewInput().
				Title("Password").
				Description("Your mailbox password").
				EchoMode(huh.EchoModePassword).
				Value(&m.creds.password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	if m.width > 80 {
		return 72
	}
	if m.width < 30 {
		return 30
	}
	return m.width - 8
}

// View renders the current mode.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("IMAP login"))
	b.WriteString("\n\n")

	switch m.mode {
	case ModeForm:
		b.WriteString(m.form.View())
	case ModeVerifying:
		fmt.Fprintf(&b, "%s Verifying %s ...", m.spinner.View(), strings.TrimSpace(m.creds.userID))
	case ModeResult:
		b.WriteString(theme.PanelStyle.Render(m.resultView()))
		b.WriteString("\n")
		b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	}

	b.WriteString("\n")
	return b.String()
}

func (m Model) resultView() string {
	outcome := m.result.Outcome()
	style := theme.OutcomeStyle(outcome)

	switch outcome {
	case "accepted":
		return style.Render("Logged in") + "\n" + m.result.UserID
	case "error":
		return style.Render("Login failed") + "\n" + m.result.Err.Error()
	default:
		return style.Render("Invalid credentials") + "\n" +
			theme.HelpStyle.Render("The mailbox server did not accept this login.")
	}
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateUserID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("User ID is required")
	}
	if _, err := auth.ParseUserID(s); err != nil {
		return fmt.Errorf("User ID must look like @localpart:domain")
	}
	return nil
}
