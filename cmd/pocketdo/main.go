// pocketdo is an offline-first personal task manager.
//
// Tasks are created and edited locally in an embedded SQLite store and
// synchronized with a remote authority in the background. The CLI works
// fully offline; changes queue up as pending and converge once
// connectivity returns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketdo/pocketdo/internal/config"
	"github.com/pocketdo/pocketdo/internal/creds"
	"github.com/pocketdo/pocketdo/internal/remote"
	"github.com/pocketdo/pocketdo/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pocketdo",
	Short: "Offline-first personal task manager",
	Long: `pocketdo manages your tasks locally and syncs them with a server
in the background.

All commands work offline. Local edits are queued as pending changes and
pushed on the next sync cycle; remote edits are pulled and merged with
last-write-wins conflict resolution.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.pocketdo/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

// openStore opens the record store at the configured path.
func openStore() *store.Store {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening task store: %v\n", err)
		os.Exit(1)
	}
	return st
}

// credProvider returns the file-backed credential provider.
func credProvider() *creds.FileProvider {
	return creds.NewFileProvider(cfg.TokenPath)
}

// newTransport builds the HTTP transport from configuration.
func newTransport(provider creds.Provider) *remote.Client {
	if cfg.ServerURL == "" {
		fmt.Fprintf(os.Stderr, "Error: no server configured (set server_url in %s or POCKETDO_SERVER_URL)\n", cfgFile)
		os.Exit(1)
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.ServerURL,
		Timeout: cfg.RequestTimeout,
		Tokens:  provider.Token,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating transport: %v\n", err)
		os.Exit(1)
	}
	return client
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
