/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/services"
	"github.com/hirelab/assessor/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reportAttempt   string
	reportExecution string
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Read archived execution reports",
}

var reportsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print one archived execution report",
	RunE: func(cmd *cobra.Command, args []string) error {
		attemptID, err := uuid.Parse(reportAttempt)
		if err != nil {
			return fmt.Errorf("invalid --attempt: %w", err)
		}
		executionID, err := uuid.Parse(reportExecution)
		if err != nil {
			return fmt.Errorf("invalid --execution: %w", err)
		}

		cfg := config.LoadConfig()
		objects, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		if objects == nil {
			return errors.New("STORAGE_BACKEND is none, no reports are archived")
		}
		defer objects.Close()

		var report services.ExecutionReport
		key := services.ExecutionReportKey(attemptID, executionID)
		if err := objects.GetJSON(cmd.Context(), key, &report); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return fmt.Errorf("no report at %s", key)
			}
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsGetCmd)

	reportsGetCmd.Flags().StringVar(&reportAttempt, "attempt", "", "attempt id")
	reportsGetCmd.Flags().StringVar(&reportExecution, "execution", "", "execution id")
	_ = reportsGetCmd.MarkFlagRequired("attempt")
	_ = reportsGetCmd.MarkFlagRequired("execution")
}
