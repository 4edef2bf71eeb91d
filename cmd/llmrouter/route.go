package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felipepmaragno/llm-router/internal/config"
	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/router"
)

func messagesFrom(system string, args []string) []domain.Message {
	var msgs []domain.Message
	if system != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	return append(msgs, domain.Message{Role: domain.RoleUser, Content: strings.Join(args, " ")})
}

func routerFromFile(path string) (*router.Router, error) {
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if len(file.Overrides) == 0 {
		return router.New(), nil
	}
	return router.New(router.WithOverridePolicy(router.StaticOverrides(file.Overrides))), nil
}

func newRouteCmd() *cobra.Command {
	var (
		model      string
		system     string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Show which model a prompt would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := routerFromFile(configPath)
			if err != nil {
				return err
			}

			msgs := messagesFrom(system, args)
			out := struct {
				Decision domain.RoutingDecision `json:"decision"`
				Savings  router.Savings         `json:"savings"`
			}{
				Decision: rt.Decide(cmd.Context(), model, msgs),
				Savings:  rt.CalculateSavings(cmd.Context(), model, msgs),
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "gpt-4", "requested model")
	cmd.Flags().StringVar(&system, "system", "", "optional system message")
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("ROUTER_CONFIG_FILE"), "routing config file")
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var models []string

	cmd := &cobra.Command{
		Use:   "estimate [prompt]",
		Short: "Estimate token usage and cost of a prompt across models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs := messagesFrom("", args)
			est := cost.EstimateTokens(msgs)

			fmt.Printf("estimated tokens: input=%d output=%d\n\n", est.InputTokens, est.OutputTokens)
			fmt.Printf("%-28s %12s\n", "MODEL", "COST (USD)")
			for _, m := range models {
				fmt.Printf("%-28s %12.6f\n", m, cost.EstimateCost(m, msgs))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&models, "models",
		[]string{"gpt-4", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo", "claude-3-opus", "claude-3-5-sonnet", "claude-3-haiku", "gemini-1.5-pro", "gemini-1.5-flash"},
		"models to price")
	return cmd
}
