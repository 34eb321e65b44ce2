package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to tsc_controller.db")
	last := flag.Int("last", 20, "show N most recent versions")
	version := flag.String("version", "", "show single version detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/tsc_controller.db [--last N] [--version id] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *version != "" {
		err = runDetailMode(os.Stdout, store, *version, *jsonOut)
	} else {
		err = runListMode(os.Stdout, store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID string          `json:"version_id"`
	State     state.State     `json:"state"`
	Tau       state.TauBudget `json:"tau"`
	Counters  state.Counters  `json:"counters"`
	Verdict   string          `json:"verdict,omitempty"`
	Rule      string          `json:"rule,omitempty"`
	Hash      string          `json:"window_hash,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func runListMode(w io.Writer, store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersionsWithProvenance(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(versions))
	for i, vp := range versions {
		rows[len(versions)-1-i] = listRow{
			VersionID: vp.VersionID,
			State:     vp.Controller.State,
			Tau:       vp.Controller.Tau,
			Counters:  vp.Controller.Counters,
			Verdict:   vp.Verdict,
			Rule:      vp.Reason,
			Hash:      vp.WindowHash,
			CreatedAt: vp.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	printListTable(w, rows)
	return nil
}

func printListTable(w io.Writer, rows []listRow) {
	fmt.Fprintf(w, "%-10s  %-12s  %-20s  %-9s  %-18s  %-24s  %-10s  %s\n",
		"Version", "State", "Tau (H/V/D)", "Counters", "Verdict", "Rule", "Window", "Time")
	fmt.Fprintf(w, "%-10s+-%-12s+-%-20s+-%-9s+-%-18s+-%-24s+-%-10s+-%s\n",
		"----------", "------------", "--------------------", "---------", "------------------",
		"------------------------", "----------", "--------------------")

	for _, r := range rows {
		fmt.Fprintf(w, "%-10s  %-12s  %-20s  %-9s  %-18s  %-24s  %-10s  %s\n",
			shortID(r.VersionID), r.State, tauCell(r.Tau), counterCell(r.Counters),
			orDash(r.Verdict), orDash(r.Rule), orDash(shortHash(r.Hash)), r.CreatedAt)
	}

	latest := rows[len(rows)-1]
	fmt.Fprintf(w, "\nActive: %s (%s), tau_max %.4f\n", shortID(latest.VersionID), latest.State, latest.Tau.TauMax)
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	VersionID  string                `json:"version_id"`
	ParentID   string                `json:"parent_id"`
	CreatedAt  string                `json:"created_at"`
	Controller state.ControllerState `json:"controller"`
	Verdict    string                `json:"verdict,omitempty"`
	Rule       string                `json:"rule,omitempty"`
	Effects    []string              `json:"effects,omitempty"`
	WindowHash string                `json:"window_hash,omitempty"`
	Tick       *logging.TickRecord   `json:"tick,omitempty"`
}

func runDetailMode(w io.Writer, store *state.Store, versionID string, jsonOut bool) error {
	vp, err := store.GetVersionWithProvenance(versionID)
	if err != nil {
		return err
	}

	out := detailOutput{
		VersionID:  vp.VersionID,
		ParentID:   vp.ParentID,
		CreatedAt:  vp.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Controller: vp.Controller,
		Verdict:    vp.Verdict,
		Rule:       vp.Reason,
		WindowHash: vp.WindowHash,
		Tick:       parseTickRecord(vp.Measurement),
	}
	if vp.Effects != "" {
		if err := json.Unmarshal([]byte(vp.Effects), &out.Effects); err != nil {
			return fmt.Errorf("decode effects of %s: %w", vp.VersionID, err)
		}
	}

	if jsonOut {
		return printJSON(w, out)
	}

	c := out.Controller
	fmt.Fprintf(w, "Version:    %s\n", out.VersionID)
	fmt.Fprintf(w, "Parent:     %s\n", orDash(out.ParentID))
	fmt.Fprintf(w, "Created:    %s\n", out.CreatedAt)
	fmt.Fprintf(w, "State:      %s\n", c.State)
	fmt.Fprintf(w, "Tau:        max %.4f  H %.4f  V %.4f  D %.4f\n", c.Tau.TauMax, c.Tau.H, c.Tau.V, c.Tau.D)
	fmt.Fprintf(w, "Counters:   ood_clear %d  drift %d  handshake %d\n",
		c.Counters.OODClear, c.Counters.Drift, c.Counters.HandshakePasses)
	fmt.Fprintf(w, "Verdict:    %s\n", orDash(out.Verdict))
	fmt.Fprintf(w, "Rule:       %s\n", orDash(out.Rule))
	fmt.Fprintf(w, "Effects:    %s\n", orDash(strings.Join(out.Effects, ", ")))
	fmt.Fprintf(w, "Window:     %s\n", orDash(out.WindowHash))

	if t := out.Tick; t != nil {
		fmt.Fprintf(w, "\nMeasurements (%d indices, policy %s):\n", len(t.Indices), t.Policy)
		fmt.Fprintf(w, "  H_C %.4f  V_C %.4f  D_C %.4f\n", t.Metrics.HC, t.Metrics.VC, t.Metrics.DC)
		fmt.Fprintf(w, "  C_sigma %.4f  CI [%.4f, %.4f]\n", t.Metrics.CSigma, t.Metrics.CI.Lo, t.Metrics.CI.Hi)
		fmt.Fprintf(w, "  Z_t %.4f  Z_crit %.4f\n", t.OOD.Zt, t.OOD.Zcrit)
		fmt.Fprintf(w, "  Witnesses: H var %.4f  H ent %.4f  H lip %.4f  D ent %.4f  D var %.4f\n",
			t.Witnesses.HVariance, t.Witnesses.HEntropy, t.Witnesses.HLipschitz,
			t.Witnesses.DEntropy, t.Witnesses.DVariance)
		fmt.Fprintf(w, "  From:      %s\n", t.Prev.State)
	}
	return nil
}

// #endregion detail-mode

// #region output

func parseTickRecord(raw string) *logging.TickRecord {
	if raw == "" {
		return nil
	}
	var rec logging.TickRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil
	}
	return &rec
}

func tauCell(t state.TauBudget) string {
	return fmt.Sprintf("%.3f/%.3f/%.3f", t.H, t.V, t.D)
}

func counterCell(c state.Counters) string {
	return fmt.Sprintf("%d/%d/%d", c.OODClear, c.Drift, c.HandshakePasses)
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
