package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alpineclim/climsync/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		fresh      bool
		printToken bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint or refresh the cached API credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			cache, err := newTokenCache(cfg)
			if err != nil {
				return err
			}

			token, err := cache.Token(cmd.Context(), !fresh)
			if err != nil {
				return err
			}

			if printToken {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "token cached at %s\n", cfg.TokenCache)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the cache and mint a new token")
	cmd.Flags().BoolVar(&printToken, "print", false, "write the token to stdout")

	return cmd
}
