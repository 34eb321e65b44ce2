package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/tsc-controller/internal/docparse"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region verify-cmd
type verifyPayload struct {
	Path    string         `json:"path"`
	C       float64        `json:"c"`
	Verdict verify.Verdict `json:"verdict"`
	Seed    *int64         `json:"seed"`
}

func newVerifyCmd() *cobra.Command {
	var format string
	var seed int64

	cmd := &cobra.Command{
		Use:   "verify PATH",
		Short: "Parse a document and run one verifier pass over it",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var seedPtr *int64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}

			in, err := parseDocument(args[0], seedPtr)
			if err != nil {
				return err
			}
			res, err := verify.Verify(cmd.Context(), in.State, in.Policy, in.Floors, in.Config, in.Env)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			payload := verifyPayload{Path: args[0], C: res.Metrics.CSigma, Verdict: res.Verdict, Seed: seedPtr}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), payload)
			}
			printVerifyTable(cmd.OutOrStdout(), payload)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for parsers that use one")
	return cmd
}

func printVerifyTable(w io.Writer, p verifyPayload) {
	seed := "None"
	if p.Seed != nil {
		seed = fmt.Sprint(*p.Seed)
	}
	fmt.Fprintf(w, "%-40s  %8s  %-18s  %s\n", "Path", "C_Σ", "Verdict", "Seed")
	fmt.Fprintf(w, "%-40s+-%8s+-%-18s+-%s\n",
		strings.Repeat("-", 40), "--------", strings.Repeat("-", 18), "------")
	fmt.Fprintf(w, "%-40s  %8.6f  %-18s  %s\n", p.Path, p.C, p.Verdict, seed)
}

// #endregion verify-cmd

// #region helpers
func parseDocument(path string, seed *int64) (docparse.ParsedInput, error) {
	in, err := docparse.ParseFile(path, seed)
	if err != nil {
		return docparse.ParsedInput{}, &exitError{code: 2, err: fmt.Errorf("parse %s: %w", path, err)}
	}
	return in, nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return usageErr("unknown format %q (want text or json)", format)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// #endregion helpers
