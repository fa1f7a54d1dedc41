package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "postage",
	Short: "Deposit-gated identity and message registry",
	Long: `postage keeps user profiles and deposit-backed message records on a
transactional ledger. Every mutating request carries an EdDSA proof from the
key it acts for.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
