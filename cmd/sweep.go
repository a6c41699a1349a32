/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"

	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/mq"
	"github.com/hirelab/assessor/internal/services"
	"github.com/spf13/cobra"
)

// sweepCmd runs one reservation sweep, for deployments that schedule it
// externally instead of inside the server.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Refund stale credit reservations once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		ctx := cmd.Context()

		conn, repo, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		var events *services.Events
		if broker != nil {
			defer broker.Close()
			events = services.NewEvents(broker)
		}

		result, err := services.NewLedgerService(repo, cfg.Ledger, events).Sweep(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
