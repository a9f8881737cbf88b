// Package main provides the cnpjgraph CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cnpjgraph",
		Short: "cnpjgraph - Load the Receita Federal CNPJ extract into a graph",
		Long: `cnpjgraph streams the Receita Federal fixed-width CNPJ extract into a
property graph, creating LegalEntity and Address nodes linked by LOCATED_AT.

Loads are idempotent: running the same extract again creates nothing new.

Stores:
  • bolt      Neo4j or any Bolt-compatible server (NEO4J_URI, NEO4J_AUTH)
  • embedded  local BadgerDB directory (--data-dir)`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("store", "", "Graph store: bolt or embedded")
	rootCmd.PersistentFlags().String("uri", "", "Bolt URI (bolt://host:7687)")
	rootCmd.PersistentFlags().String("database", "", "Bolt database name")
	rootCmd.PersistentFlags().String("data-dir", "", "Embedded store data directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: auto, json, console")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cnpjgraph v%s (%s)\n", version, commit)
		},
	})

	// Ingest command
	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load an extract file (plain or .gz) into the graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	ingestCmd.Flags().String("uf", "", "Only load entities in this state (UF)")
	ingestCmd.Flags().String("municipio", "", "Only load entities in this municipality")
	ingestCmd.Flags().String("bairro", "", "Only load entities in this neighborhood")
	ingestCmd.Flags().Bool("include-baixadas", false, "Also load closed (BAIXADA) entities")
	ingestCmd.Flags().Int("high-water-mark", 0, "In-flight writes at which reading pauses")
	ingestCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(ingestCmd)

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node and relationship counts of the configured store",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	})

	return rootCmd
}
