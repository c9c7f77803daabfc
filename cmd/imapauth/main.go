// Command imapauth checks mailbox credentials against an IMAP server and
// provisions accounts in a local account directory on first login.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/imapauth/internal/auth"
	"github.com/nhle/imapauth/internal/keys"
	"github.com/nhle/imapauth/internal/model"
	"github.com/nhle/imapauth/internal/theme"
	"github.com/nhle/imapauth/internal/ui/login"
)

// Exit codes.
const (
	exitMatch   = 0
	exitNoMatch = 1
	exitError   = 2
)

const usage = `Usage: imapauth [-config path] <command> [flags]

Commands:
  login     authenticate a user id (@localpart:domain)
  3pid      authenticate a third-party identifier such as an email address
  accounts  list accounts in the account directory, or -forget a saved token
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("imapauth", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", model.DefaultConfigPath(), "path to the configuration file")
	if err := global.Parse(args); err != nil {
		return exitError
	}
	if global.NArg() == 0 {
		global.Usage()
		return exitError
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "login":
		return runLogin(cfg, cmdArgs, stdin, stdout, stderr)
	case "3pid":
		return run3PID(cfg, cmdArgs, stdin, stdout, stderr)
	case "accounts":
		return runAccounts(cfg, cmdArgs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "imapauth: unknown command %q\n", cmd)
		global.Usage()
		return exitError
	}
}

func runLogin(cfg *model.AppConfig, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id, e.g. @bob:example.com")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}
	defer a.Close()

	if *userID == "" || !*passwordStdin {
		return runInteractiveLogin(a, *userID, stderr)
	}

	password, err := readPassword(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}

	resolved, err := a.checkPassword(context.Background(), *userID, password)
	return report(resolved, err, stdout, stderr)
}

func runInteractiveLogin(a *app, userID string, stderr io.Writer) int {
	m := login.New(a.checkPassword, keys.DefaultKeyMap(), userID)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}

	result := final.(login.Model)
	if result.Aborted() {
		return exitNoMatch
	}
	switch result.Result().Outcome() {
	case "accepted":
		return exitMatch
	case "error":
		return exitError
	default:
		return exitNoMatch
	}
}

func run3PID(cfg *model.AppConfig, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("3pid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	medium := fs.String("medium", string(auth.MediumEmail), "third-party identifier medium")
	address := fs.String("address", "", "third-party identifier, e.g. bob@example.com")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *address == "" {
		fmt.Fprintln(stderr, "imapauth: -address is required")
		return exitError
	}

	password, err := readPassword(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}
	defer a.Close()

	resolved, err := a.provider.Check3PIDAuth(context.Background(), auth.Medium(*medium), *address, password)
	return report(resolved, err, stdout, stderr)
}

func runAccounts(cfg *model.AppConfig, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("accounts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "only show the account bound to this email address")
	forget := fs.String("forget", "", "remove the saved access token of this user id")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}
	defer a.Close()

	if *forget != "" {
		if err := a.forgetToken(*forget); err != nil {
			fmt.Fprintf(stderr, "imapauth: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "Forgot access token of %s\n", *forget)
		return exitMatch
	}

	ctx := context.Background()
	var accounts []model.Account
	if *email != "" {
		userID, err := a.store.UserIDForEmail(ctx, *email)
		if err != nil {
			fmt.Fprintf(stderr, "imapauth: %v\n", err)
			return exitNoMatch
		}
		account, err := a.store.GetAccount(ctx, userID)
		if err != nil {
			fmt.Fprintf(stderr, "imapauth: %v\n", err)
			return exitError
		}
		accounts = append(accounts, *account)
	} else {
		accounts, err = a.store.ListAccounts(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "imapauth: %v\n", err)
			return exitError
		}
	}

	fmt.Fprintln(stdout, renderAccounts(accounts))
	return exitMatch
}

// report prints the outcome of a check and maps it to an exit code.
func report(userID string, err error, stdout, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintf(stderr, "imapauth: %v\n", err)
		return exitError
	}
	if userID == "" {
		fmt.Fprintln(stderr, "imapauth: no match")
		return exitNoMatch
	}
	fmt.Fprintln(stdout, userID)
	return exitMatch
}

// readPassword returns the first line of r without its line terminator.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on stdin")
	}
	return password, nil
}

func renderAccounts(accounts []model.Account) string {
	if len(accounts) == 0 {
		return theme.HelpStyle.Render("No accounts registered.")
	}

	blocks := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		emails := strings.Join(acc.Emails, ", ")
		if emails == "" {
			emails = "-"
		}
		blocks = append(blocks, lipgloss.JoinVertical(lipgloss.Left,
			theme.OutcomeStyle("accepted").Render(acc.UserID),
			theme.LabelStyle.Render("emails")+emails,
			theme.LabelStyle.Render("created")+acc.CreatedAt.Format("2006-01-02 15:04"),
		))
	}
	return theme.PanelStyle.Render(strings.Join(blocks, "\n\n"))
}
