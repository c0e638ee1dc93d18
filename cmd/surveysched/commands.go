package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"surveysched/internal/activation"
	"surveysched/internal/app"
	"surveysched/internal/config"
	"surveysched/pkg/logx"
)

const shutdownBudget = 15 * time.Second

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(config.EnvPrefix + "_CONFIG")); p != "" {
		return p
	}
	return "./config.yaml"
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "surveysched",
		Short:         "Keep recurring survey schedules in their activation window",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config (yaml or json); env "+config.EnvPrefix+"_CONFIG")

	withCore := func(cmd *cobra.Command, fn func(ctx context.Context, core *app.Core) error) error {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logx.NewConsole(cfg.Logging.Level)
		core, err := app.OpenCore(cfg, log, nil)
		if err != nil {
			return err
		}
		defer core.Close()
		return fn(cmd.Context(), core)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic reconciler and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.Core) error {
				sum, err := core.Activation.Reconcile(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}

	var at string
	evaluate := &cobra.Command{
		Use:   "evaluate <id>",
		Short: "Evaluate one schedule without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.Core) error {
				when := core.Reconciler.Now()
				if strings.TrimSpace(at) != "" {
					t, err := time.Parse(time.RFC3339, at)
					if err != nil {
						return fmt.Errorf("--at: %w", err)
					}
					when = t
				}
				sc, err := core.Store.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("get schedule %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"schedule":   sc,
					"evaluation": core.Reconciler.Evaluator().Evaluate(sc, when),
					"at":         when,
				})
			})
		},
	}
	evaluate.Flags().StringVar(&at, "at", "", "instant to evaluate at (RFC3339); default now")

	var in activation.Input
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Set the recurring window of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.Core) error {
				sc, err := core.Activation.SetSchedule(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sc)
			})
		},
	}
	set.Flags().StringVar(&in.StartDate, "start", "", "first day (YYYY-MM-DD or RFC3339)")
	set.Flags().StringVar(&in.EndDate, "end", "", "last day (YYYY-MM-DD or RFC3339)")
	set.Flags().StringVar(&in.DailyStartTime, "from", "", "daily window start (HH:MM)")
	set.Flags().StringVar(&in.DailyEndTime, "to", "", "daily window end (HH:MM)")
	_ = set.MarkFlagRequired("from")
	_ = set.MarkFlagRequired("to")

	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Create an empty, non-recurring schedule record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.Core) error {
				sc, err := core.Store.Create(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sc)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.Core) error {
				items, err := core.Store.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}

	root.AddCommand(serve, reconcile, evaluate, set, register, list)
	return root
}

func runServe(parent context.Context, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewManager(cfgPath))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
