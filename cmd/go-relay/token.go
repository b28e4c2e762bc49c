package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/a-essam23/go-relay/internal/auth"
	"github.com/spf13/cobra"
)

// newTokenCmd mints a handshake token signed with server.auth.jwtSecret, for
// local testing of authenticated upgrades.
func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.cfg.Server.Auth.JWTSecret
			if secret == "" {
				return errors.New("server.auth.jwtSecret is not configured")
			}
			if subject == "" {
				return errors.New("--sub is required")
			}
			token, err := auth.NewVerifier(secret).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "user id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
