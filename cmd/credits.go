/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/services"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	creditsCompany string
	creditsAmount  string
	creditsLimit   int
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up company credit accounts",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add available credits to a company",
	Example: `  assessor credits grant --company 6f1c... --amount 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		companyID, err := uuid.Parse(creditsCompany)
		if err != nil {
			return fmt.Errorf("invalid --company: %w", err)
		}
		amount, err := decimal.NewFromString(creditsAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount: %w", err)
		}

		cfg := config.LoadConfig()
		conn, repo, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		account, err := services.NewLedgerService(repo, cfg.Ledger, nil).GrantCredits(cmd.Context(), companyID, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd, account)
	},
}

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a company's balance and recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		companyID, err := uuid.Parse(creditsCompany)
		if err != nil {
			return fmt.Errorf("invalid --company: %w", err)
		}

		cfg := config.LoadConfig()
		conn, repo, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		overview, err := services.NewLedgerService(repo, cfg.Ledger, nil).Overview(cmd.Context(), companyID, creditsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, overview)
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsShowCmd)

	creditsCmd.PersistentFlags().StringVar(&creditsCompany, "company", "", "company id")
	_ = creditsCmd.MarkPersistentFlagRequired("company")
	creditsGrantCmd.Flags().StringVar(&creditsAmount, "amount", "", "credits to add, e.g. 12.5")
	_ = creditsGrantCmd.MarkFlagRequired("amount")
	creditsShowCmd.Flags().IntVar(&creditsLimit, "limit", 20, "ledger entries to show")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
