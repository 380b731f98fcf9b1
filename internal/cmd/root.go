// Package cmd defines the climsync command tree.
package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpineclim/climsync/internal/auth"
	"github.com/alpineclim/climsync/internal/config"
)

var verbose bool

// ExitError carries an exit code through cobra's error return without
// aborting via os.Exit inside a command body.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "climsync",
		Short: "Alpine climate observation pipeline",
		Long: `climsync maintains a local archive of daily climate observations for
alpine weather stations: it fetches station metadata, reconciles the backlog
of observations the upstream API could not serve, and publishes snapshots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newReconcileCmd(),
		newSweepCmd(),
		newStationsCmd(),
		newBacklogCmd(),
		newUpsertCmd(),
		newPruneCmd(),
		newExportCmd(),
		newServeCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree and maps ExitError onto the process exit
// code.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newTokenCache builds the credential cache from config; commands needing
// the upstream API share this wiring.
func newTokenCache(cfg *config.Config) (*auth.Cache, error) {
	basic, err := auth.ResolveBasicAuth(cfg.BasicAuthB64, cfg.ClientID, cfg.ClientSecret, cfg.IDFile)
	if err != nil {
		return nil, err
	}
	issuer := &auth.HTTPIssuer{
		TokenURL:     cfg.TokenURL,
		BasicAuthB64: basic,
		Client:       &http.Client{Timeout: cfg.HTTPTimeout},
	}
	return auth.NewCache(cfg.TokenCache, cfg.TokenSkew, issuer), nil
}
