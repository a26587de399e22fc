package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joescharf/voxpilot/internal/auth"
	"github.com/joescharf/voxpilot/internal/models"
)

// stdin is replaceable in tests.
var stdin io.Reader = os.Stdin

var (
	loginUsername string
	loginPassword string
	loginMock     bool

	registerEmail    string
	registerPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Sign in to the backend",
	Long: `Sign in to the backend and store the token locally.

The password is read from the terminal without echo unless --password is
given. --mock stores development credentials without contacting the
backend.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginMock {
			return loginMockRun(cmd.Context())
		}
		username := loginUsername
		if len(args) == 1 {
			username = args[0]
		}
		return loginRun(cmd.Context(), username, loginPassword)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return logoutRun(cmd.Context())
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return whoamiRun(cmd.Context())
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create a backend account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerRun(cmd.Context(), args[0], registerEmail, registerPassword)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when omitted)")
	loginCmd.Flags().BoolVar(&loginMock, "mock", false, "Store development credentials instead of signing in")

	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "Email address")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "Password (prompted when omitted)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(registerCmd)
}

// readLine prompts for a visible value.
func readLine(prompt string) (string, error) {
	ui.Prompt("%s: ", prompt)
	// Read byte by byte so the next prompt still sees the rest of stdin.
	var line []byte
	b := make([]byte, 1)
	for {
		n, err := stdin.Read(b)
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			line = append(line, b[0])
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				break
			}
			return "", fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
		}
	}
	return strings.TrimSpace(string(line)), nil
}

// readSecret prompts for a value without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return readLine(prompt)
	}
	ui.Prompt("%s: ", prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(ui.Out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
	}
	return string(b), nil
}

func loginRun(ctx context.Context, username, password string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if username == "" {
		if username, err = readLine("Username"); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = readSecret("Password"); err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would sign in as %s at %s", username, newClient(s).BaseURL())
		return nil
	}

	resp, err := newClient(s).Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	ui.Success("Signed in as %s (%s)", ui.Accent(resp.Username), resp.Role)
	return nil
}

func loginMockRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	wrote, err := auth.NewManager(s).SetupMock(ctx)
	if err != nil {
		return fmt.Errorf("store mock credentials: %w", err)
	}
	if !wrote {
		ui.Info("Already signed in; mock credentials not written")
		return nil
	}
	ui.Success("Stored mock credentials for %s", auth.MockUsername)
	return nil
}

func logoutRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := auth.NewManager(s).Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	ui.Success("Signed out")
	return nil
}

func whoamiRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	st := auth.NewManager(s).State(ctx)
	if st.Error != "" {
		return fmt.Errorf("read credentials: %s", st.Error)
	}
	if !st.IsAuthenticated {
		ui.Warning("Not signed in")
		return nil
	}

	fmt.Fprintf(ui.Out, "  %-10s %s\n", "username", ui.Accent(st.Username))
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "user id", st.UserID)
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "role", st.Role)
	if st.IsDeveloper() {
		fmt.Fprintf(ui.Out, "  %-10s %s\n", "console", "developer tools enabled")
	}
	return nil
}

func registerRun(ctx context.Context, username, email, password string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if password == "" {
		if password, err = readSecret("Password"); err != nil {
			return err
		}
	}
	if dryRun {
		ui.DryRunMsg("Would register %s", username)
		return nil
	}

	u, err := newClient(s).Register(ctx, models.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	ui.Success("Registered %s (id %d). Run 'voxpilot login %s' to sign in.", u.Username, u.ID, u.Username)
	return nil
}
