package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/plansource"
)

func validateCmd() *cobra.Command {
	var planRef string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a test plan without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			plan, err := loadPlan(cmd.Context(), cfg, planRef)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Test plan is valid\n")
			fmt.Fprintf(out, "  Suite:    %s\n", plan.TestSuite.TestSuiteName)
			fmt.Fprintf(out, "  Cases:    %d\n", len(plan.TestSuite.TestCases))
			fmt.Fprintf(out, "  Browsers: %d\n", len(plan.TestSettings.BrowserConfigurations))
			return nil
		},
	}

	cmd.Flags().StringVarP(&planRef, "plan", "p", "", "Test plan file or git reference (git+https://host/owner/repo.git//path/plan.yaml@branch)")
	cmd.MarkFlagRequired("plan")

	return cmd
}

// loadPlan resolves, parses and validates a plan, applying config overrides
func loadPlan(ctx context.Context, cfg *config.Config, planRef string) (*config.TestPlan, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	src := plansource.NewSource(filepath.Join(cfg.OutputDir, ".plans"), cfg.GitHubToken)
	resolved, err := src.Resolve(ctx, planRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve test plan: %w", err)
	}

	plan, err := config.LoadTestPlan(resolved.Path)
	if err != nil {
		return nil, err
	}
	if cfg.TimeoutMs > 0 {
		plan.TestSettings.Timeout = cfg.TimeoutMs
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
