// -- cmd/run.go --
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/internal/actuator"
	"github.com/xkilldash9x/marionette-cli/internal/config"
	"github.com/xkilldash9x/marionette-cli/internal/loop"
	"github.com/xkilldash9x/marionette-cli/internal/observability"
	"github.com/xkilldash9x/marionette-cli/internal/planner"
	"github.com/xkilldash9x/marionette-cli/internal/vision"
)

var (
	runGoal     string
	runMaxSteps int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one automation goal against the local desktop.",
	Long: `Starts the perceive-plan-act-recover loop for a single goal. The agent
captures the screen, asks the configured planner service for the next
action, dispatches synthetic input or shell commands, and recovers from
failures until the goal is done, the circuit breaker trips, or the step
budget runs out.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlag("loop.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
			return err
		}
		return viper.BindPFlag("planner.base_url", cmd.Flags().Lookup("planner-url"))
	},
	RunE: executeRun,
}

func init() {
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "natural-language goal for this run (required)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "step budget override for this run")
	runCmd.Flags().String("planner-url", "", "planner service base URL override")
	runCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(runCmd)
}

// runPlannerConfig applies the per-run planner flag override to a copy of the
// loaded configuration; the shared Config stays untouched.
func runPlannerConfig(base config.PlannerConfig) config.PlannerConfig {
	if url := viper.GetString("planner.base_url"); url != "" {
		base.BaseURL = url
	}
	return base
}

func executeRun(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	// Flag bindings land after the root command loaded the config, so the
	// bound keys are re-read here for per-run overrides.
	plannerCfg := runPlannerConfig(cfg.Planner)
	if runMaxSteps <= 0 {
		runMaxSteps = viper.GetInt("loop.max_steps")
	}

	pl, err := planner.NewHTTPPlanner(plannerCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create planner client: %w", err)
	}
	frames, err := vision.NewExecFrameSource(cfg.Actuator, logger)
	if err != nil {
		return fmt.Errorf("failed to create frame source: %w", err)
	}
	act := actuator.NewExecActuator(cfg.Actuator, logger)
	analyzer := planner.NewModelAnalyzer(pl, logger)

	manager := loop.NewManager(cfg, pl, analyzer, frames, act, nil, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := manager.StartRun(ctx, runGoal, runMaxSteps)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	go func() {
		<-ctx.Done()
		manager.Cancel(handle)
	}()

	runErr := manager.Wait(handle)
	status := manager.Status(handle)

	logger.Info("Run finished",
		zap.String("run_id", handle.ID),
		zap.Bool("success", status.Success),
		zap.Int("steps", status.StepCount),
		zap.String("reason", status.Reason))

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: success=%t steps=%d reason=%q\n",
		handle.ID, status.Success, status.StepCount, status.Reason)

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	if !status.Success {
		return fmt.Errorf("run failed: %s", status.Reason)
	}
	return nil
}
