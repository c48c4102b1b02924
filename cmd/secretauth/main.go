// Command secretauth runs the secrets application and its admin tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/panyam/secretauth/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "secretauth",
		Short: "Anonymous secret sharing behind local and federated login",
		Long: `secretauth serves the secrets application.

Users sign up with a username and password or through Google/GitHub,
then submit one secret each. Submitted secrets are listed publicly
without saying whose they are.

Configuration comes from the environment, optionally seeded from an
env file (default .env).`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to read before the environment")

	load := func() (*config.Config, error) {
		return config.LoadFile(envFile)
	}

	rootCmd.AddCommand(
		serveCmd(load),
		migrateCmd(load),
		useraddCmd(load),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
