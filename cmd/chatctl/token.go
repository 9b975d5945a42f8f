package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/quiz-chat/internal/config"
	"github.com/DoyleJ11/quiz-chat/internal/identity"
)

func newTokenCmd(cfg *config.Client) *cobra.Command {
	var (
		user string
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed development token.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user = strings.TrimSpace(user)
			if user == "" {
				return errors.New("--user is required")
			}
			if name == "" {
				name = user
			}
			tok, err := identity.Sign(cfg.TokenSecret, identity.Identity{UserID: user, DisplayName: name}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&cfg.TokenSecret, "secret", "", "signing secret (env: CHAT_TOKEN_SECRET)")
	return cmd
}
