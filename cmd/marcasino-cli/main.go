// Package main is a command line client for the marcasino engine. It derives
// commitment hashes locally and drives the HTTP API for everything else.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "marcasino-cli",
		Short:         "marcasino betting engine client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("server", envOr("MARCASINO_URL", "http://localhost:8080"), "engine base URL")
	cmd.PersistentFlags().StringP("user", "u", os.Getenv("MARCASINO_USER"), "caller identity")

	cmd.AddCommand(
		secretCmd(),
		hashCmd(),
		depositCmd(),
		balanceCmd(),
		commitCmd(),
		revealCmd(),
		settleCmd(),
		fulfillCmd(),
		ticketsCmd(),
		drawCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
