/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/mq"
	"github.com/hirelab/assessor/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var eventsChannels []string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with published domain events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print domain events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		broker, err := mq.Open(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is none, nothing to tail")
		}
		defer broker.Close()

		var mu sync.Mutex
		enc := json.NewEncoder(cmd.OutOrStdout())
		g, ctx := errgroup.WithContext(cmd.Context())
		for _, channel := range eventsChannels {
			g.Go(func() error {
				err := broker.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
					mu.Lock()
					defer mu.Unlock()
					return enc.Encode(map[string]any{
						"channel":    channel,
						"id":         msg.ID,
						"attributes": msg.Attributes,
						"data":       json.RawMessage(msg.Data),
					})
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)

	eventsTailCmd.Flags().StringSliceVar(&eventsChannels, "channel", []string{
		services.ChannelInviteIssued,
		services.ChannelAttemptEvaluated,
		services.ChannelCreditsRefunded,
	}, "channels to subscribe to")
}
