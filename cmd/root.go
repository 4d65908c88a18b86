// Package cmd defines the zealywatch CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/config"
	"github.com/JakeFAU/zealywatch/internal/logging"
)

// envKeyType keys the loaded environment in the command context.
type envKeyType string

const envKey envKeyType = "env"

// skipEnv marks commands that need neither config nor a logger.
const skipEnv = "skip-env"

// env is what PersistentPreRunE prepares for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// configError marks failures the operator fixes by editing configuration.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

const remediation = `
Set the required values in the environment or a config file, for example:

  TELEGRAM_BOT_TOKEN=123456:ABC-your-bot-token
  CHAT_ID=123456789
  # optional
  CHROME_BIN=/usr/bin/chromium
  IS_RENDER=false
`

// loadConfig is swapped in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "zealywatch",
		Short: "Watches Zealy quest boards and reports changes over Telegram.",
		Long: `zealywatch polls a small set of Zealy community pages, fingerprints their
normalized text, and alerts a single Telegram operator when anything changes.
The operator controls the watch list and the monitoring loop from the chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipEnv] == "true" {
				return nil
			}
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return configError{err: err}
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return configError{err: err}
			}
			ctx := context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var cfgErr configError
		if errors.As(err, &cfgErr) {
			fmt.Fprint(stderr, remediation)
		}
		return 1
	}
	return 0
}
