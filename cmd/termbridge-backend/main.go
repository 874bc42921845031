// Command termbridge-backend runs the backend half of a remote terminal
// session: it connects to the frontend's control and data ports, starts a
// shell on a pseudo-terminal and relays its I/O until the shell exits.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/user/termbridge/internal/config"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

// execute runs the command and maps its outcome to the process exit code.
func execute(args []string, stderr io.Writer) int {
	cmd := newRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type rootFlags struct {
	configPath  string
	shell       string
	logLevel    string
	journal     string
	dialTimeout time.Duration
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "termbridge-backend <control-port> <data-port> <key> <cols> <rows> <window-size> <window-threshold>",
		Short:         "Relay a shell on a pseudo-terminal to a remote frontend",
		Args:          cobra.ExactArgs(config.PositionalArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			level, _ := cfg.SlogLevel()
			slog.SetDefault(newLogger(stderr, level))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flags.shell, "shell", "", "shell command to run (default /bin/bash)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&flags.journal, "journal", "", "record the session in this SQLite journal")
	cmd.Flags().DurationVar(&flags.dialTimeout, "dial-timeout", 0, "timeout for connecting to the frontend")
	return cmd
}

// loadConfig layers defaults, the optional config file, explicit flags and
// finally the positional startup parameters.
func loadConfig(cmd *cobra.Command, flags rootFlags, args []string) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		if err := cfg.LoadFile(flags.configPath); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("shell") {
		cfg.Shell = flags.shell
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("journal") {
		cfg.Journal = flags.journal
	}
	if changed("dial-timeout") {
		cfg.DialTimeout = flags.dialTimeout
	}

	if err := cfg.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
