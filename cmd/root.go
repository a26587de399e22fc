package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/voxpilot/internal/auth"
	"github.com/joescharf/voxpilot/internal/client"
	"github.com/joescharf/voxpilot/internal/output"
	"github.com/joescharf/voxpilot/internal/store"
	"github.com/joescharf/voxpilot/internal/theme"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *slog.Logger

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "voxpilot",
	Short: "Voice assistant - speak a request, confirm it, get it done",
	Long: `voxpilot turns a spoken (or typed) request into a tool call.

Each turn is recorded, interpreted by the backend, read back to you for
confirmation, and only then executed. Run 'voxpilot serve' for a local
backend and 'voxpilot login' to sign in.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/voxpilot/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "voxpilot")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VOXPILOT")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "voxpilot"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "voxpilot.db"))
	viper.SetDefault("api.base_url", client.DefaultBaseURL)
	viper.SetDefault("api.timeout", 10*time.Second)
	viper.SetDefault("serve.port", 8000)
	viper.SetDefault("speech.tts_command", "")
	viper.SetDefault("speech.capture_timeout", 30*time.Second)
	viper.SetDefault("confirm.max_attempts", 3)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// The store is opened lazily so config/version run without a db.
}

// rootRun handles bare `voxpilot`: who is signed in, the theme, and the backend.
func rootRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st := auth.NewManager(s).State(ctx)
	if st.IsAuthenticated {
		ui.Success("Signed in as %s (%s)", ui.Accent(st.Username), st.Role)
	} else {
		ui.Warning("Not signed in. Run 'voxpilot login' first.")
	}

	t, err := theme.NewService(s).Get(ctx)
	if err != nil {
		return err
	}
	ui.Info("Theme: %s", t)
	ui.Info("Backend: %s", viper.GetString("api.base_url"))

	if pid, running := pidFile().IsRunning(); running {
		ui.Info("Local server running (PID %d)", pid)
	}

	fmt.Fprintln(ui.Out)
	ui.Info("Run 'voxpilot talk' to start a conversation.")
	return nil
}

// getStore returns the shared store, initializing it on first call.
// The stored theme is applied to the UI once the store is open.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if t, err := theme.NewService(s).Get(context.Background()); err == nil {
		ui.UseTheme(string(t))
	}

	dataStore = s
	return dataStore, nil
}

// newClient returns a remote client for the configured backend.
func newClient(s store.Store) *client.Client {
	return client.New(viper.GetString("api.base_url"), s,
		client.WithTimeout(viper.GetDuration("api.timeout")),
		client.WithLogger(logger),
	)
}
