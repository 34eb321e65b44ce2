package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/tsc-controller/internal/controller"
	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region run-cmd
type stepRow struct {
	Step    int             `json:"step"`
	Verdict string          `json:"verdict"`
	Rule    string          `json:"rule"`
	From    state.State     `json:"from"`
	To      state.State     `json:"to"`
	Tau     state.TauBudget `json:"tau"`
	Effects []effect.Kind   `json:"effects"`
}

func newRunCmd() *cobra.Command {
	var (
		format   string
		steps    int
		seed     int64
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "run PATH",
		Short: "Run controller ticks against a document's measurement environment",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if steps < 1 {
				return usageErr("--steps must be at least 1, got %d", steps)
			}
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return usageErr("%v", err)
			}
			var seedPtr *int64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}

			in, err := parseDocument(args[0], seedPtr)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cmd.ErrOrStderr(), level, true)
			opts := controller.DefaultOptions()
			opts.Floors, opts.Config, opts.Policy = in.Floors, in.Config, in.Policy
			opts.Logger = logger
			opts.Hooks = effect.LoggingHooks{Logger: logger}

			initial := state.NewControllerState()
			initial.State = in.State
			runner, err := controller.NewRunner(initial, in.Env, opts)
			if err != nil {
				return err
			}

			rows := make([]stepRow, 0, steps)
			for i := 1; i <= steps; i++ {
				out, err := runner.Tick(cmd.Context())
				if err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}
				rows = append(rows, stepRow{
					Step:    i,
					Verdict: string(out.Verify.Verdict),
					Rule:    string(out.Rule),
					From:    out.Prev.State,
					To:      out.Next.State,
					Tau:     out.Next.Tau,
					Effects: effect.Kinds(out.Effects),
				})
			}

			if format == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			printStepTable(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().IntVar(&steps, "steps", 10, "number of ticks to run")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for parsers that use one")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	return cmd
}

func printStepTable(w io.Writer, rows []stepRow) {
	fmt.Fprintf(w, "%-5s| %-18s| %-22s| %-13s| %-22s| %s\n", "Step", "Verdict", "Rule", "State", "Tau (H/V/D)", "Effects")
	fmt.Fprintf(w, "%-5s+%-19s+%-23s+%-14s+%-23s+%s\n",
		"-----", "-------------------", "-----------------------", "--------------", "-----------------------", "--------")
	for _, r := range rows {
		tau := fmt.Sprintf("%.4f/%.4f/%.4f", r.Tau.H, r.Tau.V, r.Tau.D)
		fmt.Fprintf(w, "%-5d| %-18s| %-22s| %-13s| %-22s| %d\n", r.Step, r.Verdict, r.Rule, r.To, tau, len(r.Effects))
	}
	if len(rows) > 0 {
		fmt.Fprintf(w, "\nFinal state: %s\n", rows[len(rows)-1].To)
	}
}

// #endregion run-cmd
