package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"integrator/version"
)

// =====================
// ENV esperadas
// =====================
//
// Store (driver "supabase", padrão)
// - SUPABASE_URL                  (ex: https://xyz.supabase.co)
// - SUPABASE_SERVICE_ROLE_KEY     (service role; nunca exposto ao front)
// - SUPABASE_SCHEMA               (opcional, profile do PostgREST)
//
// Store (driver "database")
// - INTEGRATOR_STORE_DRIVER=database
// - DATABASE, DB_HOST, DB_PORT, DB_USER, DB_NAME, DB_PASS, AUTOMIGRATE
//
// Server
// - PORT                          (ex: 8080)
// - LOG_PATH                      (opcional, duplica os logs num arquivo)
// - TRUSTED_PROXIES               (opcional, CIDRs separados por vírgula; vazio = usa o IP do peer)
//
// =====================

func main() {
	rootCmd := &cobra.Command{
		Use:     "integrator",
		Short:   "Request-access endpoints for the docs site",
		Version: version.HandlerVersion,
		Long: `integrator serves the docs site's request-access form: it validates
submissions, stores them, and proves push connectivity by sending a NewsML 1.2
test document to the integrator's HTTPS endpoint.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "config.json", "path to the JSON config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(newsmlCmd())
	rootCmd.AddCommand(deliverCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the handler version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.HandlerVersion)
		},
	}
}
