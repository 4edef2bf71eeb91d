package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/felipepmaragno/llm-router/internal/tracking"
)

func newSavingsCmd() *cobra.Command {
	var (
		databaseURL string
		since       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "savings",
		Short: "Report routing savings recorded in the tracking database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("--database-url or TRACKING_DATABASE_URL is required")
			}

			sink, err := tracking.OpenPostgresSink(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer sink.Close()

			byModel, err := sink.SavingsSince(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}

			models := make([]string, 0, len(byModel))
			for m := range byModel {
				models = append(models, m)
			}
			sort.Strings(models)

			var total float64
			fmt.Printf("%-28s %12s\n", "REQUESTED MODEL", "SAVED (USD)")
			for _, m := range models {
				fmt.Printf("%-28s %12.4f\n", m, byModel[m])
				total += byModel[m]
			}
			fmt.Printf("%-28s %12.4f\n", "TOTAL", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("TRACKING_DATABASE_URL"), "tracking database URL")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "reporting window")
	return cmd
}
