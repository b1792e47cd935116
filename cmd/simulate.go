package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/observability"
	"github.com/xkilldash9x/constellation/internal/simulate"
	"github.com/xkilldash9x/constellation/internal/store"
)

// newSimulateCmd creates the `simulate` command, which plays a scenario
// against a headless window and prints what reached the pipelines.
func newSimulateCmd(v *viper.Viper) *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replays a window and navigation scenario through the compositor and constellation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			sc, err := loadScenario(cfg.Simulate.Scenario)
			if err != nil {
				return err
			}

			journal, shutdown, err := initializeJournal(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer shutdown()

			runner := simulate.NewRunner(cfg, logger, journal)
			report, err := runner.Run(ctx, sc)
			if err != nil {
				logger.Error("Scenario failed", zap.String("scenario", sc.Name), zap.Error(err))
				return fmt.Errorf("scenario %q failed: %w", sc.Name, err)
			}
			format, _ := cmd.Flags().GetString("format")
			return writeReport(cmd.OutOrStdout(), format, report)
		},
	}

	simulateCmd.Flags().StringP("scenario", "s", "", "Path to a YAML scenario. The built-in scenario is used when unset.")
	simulateCmd.Flags().StringP("format", "f", "text", "Report format ('text' or 'json').")
	simulateCmd.Flags().Float64("steps-per-second", 0, "Rate at which scenario steps are applied. (Overrides config/env)")

	// Bound at construction so the root command's config load sees the flags.
	_ = v.BindPFlag("simulate.scenario", simulateCmd.Flags().Lookup("scenario"))
	_ = v.BindPFlag("simulate.steps_per_second", simulateCmd.Flags().Lookup("steps-per-second"))

	return simulateCmd
}

func loadScenario(path string) (*simulate.Scenario, error) {
	if path == "" {
		return simulate.ParseScenario([]byte(simulate.DefaultScenario))
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve scenario path '%s': %w", path, err)
	}
	return simulate.LoadScenario(expanded)
}

func writeReport(w io.Writer, format string, r *simulate.Report) error {
	switch strings.ToLower(format) {
	case "", "text":
		return printReport(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// initializeJournal connects the propagation journal when a database is
// configured. The returned shutdown func is always safe to call.
func initializeJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (simulate.BackgroundJournal, func(), error) {
	if cfg.Database.URL == "" {
		logger.Debug("No database configured, propagation rounds are not journaled.")
		return nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to connect to database: %w", err)
	}
	shutdown := func() { pool.Close() }

	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		shutdown()
		return nil, func() {}, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := dbStore.EnsureSchema(ctx); err != nil {
		shutdown()
		return nil, func() {}, err
	}
	return store.NewJournal(dbStore, logger, cfg.Database.JournalBuffer), shutdown, nil
}

func printReport(w io.Writer, r *simulate.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario:         %s\n", r.Scenario)
	fmt.Fprintf(&b, "Steps:            %d\n", r.Steps)
	fmt.Fprintf(&b, "Rounds:           %d\n", r.Rounds)
	fmt.Fprintf(&b, "Units spawned:    %d\n", r.UnitsSpawned)
	fmt.Fprintf(&b, "Units aborted:    %d\n", r.UnitsAborted)
	fmt.Fprintf(&b, "Live event loops: %d\n", r.LiveEventLoops)

	reasons := make([]string, 0, len(r.Reflows))
	for reason := range r.Reflows {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	b.WriteString("Reflows:\n")
	for _, reason := range reasons {
		fmt.Fprintf(&b, "  %-12s %d\n", reason, r.Reflows[reason])
	}

	if len(r.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  %s\n", w)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
