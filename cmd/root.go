// Package cmd wires the CLI: migrate, worker and version subcommands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lexikon",
	Short: "Lexikon - document indexing and retrieval backend",
	Long: `Lexikon turns uploaded documents into retrievable segments: it splits
them, builds a keyword index and a vector index, and serves semantic,
full-text and hybrid retrieval over the result.

Run "lexikon worker" to start the indexing worker, "lexikon migrate" to
apply database migrations.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
