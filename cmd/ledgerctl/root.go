package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	basePath  string
	outputFmt string
	user      string
	roles     string
	exercice  int
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "CLI for the budget execution ledger",
	Long: `ledgerctl drives the ledger server over its HTTP API.

Every call is made on behalf of --user holding --roles, the same identity
headers a gateway would set. --exercice selects the fiscal year; without it
the server applies its own default.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("LEDGER_SERVER", "http://localhost:8080"), "Ledger server URL")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "/api/ledger/v1", "Path the ledger API is mounted on")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", os.Getenv("LEDGER_USER"), "Acting principal (default: from LEDGER_USER env)")
	rootCmd.PersistentFlags().StringVarP(&roles, "roles", "r", os.Getenv("LEDGER_ROLES"), "Comma-separated roles of the principal (default: from LEDGER_ROLES env)")
	rootCmd.PersistentFlags().IntVarP(&exercice, "exercice", "e", 0, "Fiscal year of the request")

	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newLinesCmd())
	rootCmd.AddCommand(newFiscalYearCmd())
	rootCmd.AddCommand(newStageCmd(commitmentsStage))
	rootCmd.AddCommand(newStageCmd(verificationsStage))
	rootCmd.AddCommand(newStageCmd(paymentOrdersStage))
	rootCmd.AddCommand(newStageCmd(settlementsStage))
	rootCmd.AddCommand(newTransfersCmd())
	rootCmd.AddCommand(newWorkflowsCmd())
	rootCmd.AddCommand(newVisasCmd())
	rootCmd.AddCommand(newAuditCmd())
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiPath joins the API base path and p.
func apiPath(p string) string {
	return strings.TrimRight(basePath, "/") + p
}
