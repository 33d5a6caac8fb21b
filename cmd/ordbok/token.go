package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/adapters/auth"
	"github.com/layer-3/ordbok/adapters/codec"
	"github.com/layer-3/ordbok/config"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and mint signed tokens",
	}

	cmd.AddCommand(
		newTokenInspectCommand(opts),
		newTokenIssueCommand(opts),
	)

	return cmd
}

type inspection struct {
	Nonce     string `json:"nonce"`
	ExpiresAt string `json:"expiresAt"`
	Expired   bool   `json:"expired"`
	Verified  *bool  `json:"verified,omitempty"`
}

func newTokenInspectCommand(opts *rootOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Decode a signed token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credential, err := codec.ParseUnverified(args[0])
			if err != nil {
				return err
			}

			out := inspection{
				Nonce:     credential.Nonce,
				ExpiresAt: credential.Expiry().UTC().Format(time.RFC3339),
				Expired:   credential.Expired(time.Now()),
			}

			if verify {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				c, err := codec.NewHMACCodec([]byte(cfg.Auth.SessionSecret))
				if err != nil {
					return err
				}
				_, ok := c.Verify(args[0])
				out.Verified = &ok
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Check the signature with the configured SESSION_SECRET")

	return cmd
}

func newTokenIssueCommand(opts *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a stateless token with the configured SESSION_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.SessionMaxAge
			}

			c, err := codec.NewHMACCodec([]byte(cfg.Auth.SessionSecret))
			if err != nil {
				return err
			}
			token, err := auth.NewStateless(c).Issue(cmd.Context(), time.Now().Add(ttl))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to the session max age)")

	return cmd
}
