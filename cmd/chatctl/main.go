package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-chat/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}

func newRootCmd() *cobra.Command {
	cfg := &config.Client{}

	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the quiz chat relay.",
		Args:  cobra.NoArgs,
		// Env first, then flags the user actually set.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.LoadClient()
			if err != nil {
				return err
			}
			applyFlags(cmd, &loaded, cfg)
			*cfg = loaded
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&cfg.ServerURL, "server", "", "relay base url (env: CHAT_SERVER_URL)")
	fs.StringVar(&cfg.Token, "token", "", "bearer token (env: CHAT_TOKEN)")
	fs.StringVar(&cfg.Log.Level, "log-level", "", "log level (env: LOG_LEVEL)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.AddCommand(newJoinCmd(cfg), newTokenCmd(cfg))
	return cmd
}

// applyFlags copies every changed flag value from flagged onto loaded.
func applyFlags(cmd *cobra.Command, loaded, flagged *config.Client) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("server") {
		loaded.ServerURL = flagged.ServerURL
	}
	if changed("token") {
		loaded.Token = flagged.Token
	}
	if changed("log-level") {
		loaded.Log.Level = flagged.Log.Level
	}
	if changed("room") {
		loaded.Room = flagged.Room
	}
	if changed("debounce") {
		loaded.TypingDebounce = flagged.TypingDebounce
	}
	if changed("secret") {
		loaded.TokenSecret = flagged.TokenSecret
	}
}

// newLogger keeps the terminal quiet unless a level is asked for.
func newLogger(cfg config.Client) (*zap.Logger, error) {
	if cfg.Log.Level == "" || cfg.Log.Level == "info" {
		return zap.NewNop(), nil
	}
	return config.NewLogger(config.Log{Level: cfg.Log.Level, Dev: true})
}
