package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/replay"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to tsc_controller.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	limit := flag.Int("limit", 0, "replay at most N journaled ticks (DB mode, 0 = all)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/tsc_controller.db [--limit N]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var fixtures []*replay.Fixture
	var err error
	if *fixturePath != "" {
		var f *replay.Fixture
		f, err = replay.LoadFixture(*fixturePath)
		fixtures = []*replay.Fixture{f}
	} else {
		fixtures, err = fixturesFromDB(*dbPath, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		os.Exit(2)
	}

	os.Exit(runFixtures(context.Background(), os.Stdout, fixtures))
}

// #endregion main

// #region db-extract

// fixturesFromDB returns one fixture per run of ticks journaled under the same thresholds.
func fixturesFromDB(dbPath string, limit int) ([]*replay.Fixture, error) {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	rows, err := logging.ReadTicks(store.DB(), limit)
	if err != nil {
		return nil, err
	}
	return replay.FixturesFromTicks("journal "+dbPath, rows)
}

// #endregion db-extract

// #region output

// runFixtures replays each fixture in turn and returns the worst exit code.
func runFixtures(ctx context.Context, w io.Writer, fixtures []*replay.Fixture) int {
	code := 0
	for i, f := range fixtures {
		if len(fixtures) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "== %s\n", f.Description)
		}
		code = max(code, runFixture(ctx, w, f))
	}
	return code
}

func runFixture(ctx context.Context, w io.Writer, f *replay.Fixture) int {
	results, err := replay.Replay(ctx, f.StartState, f.ToWindows(), f.Config.ToReplayConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	code := printComparison(w, results, f.ExpectedResults)

	s := replay.Summarize(f.StartState, results)
	fmt.Fprintf(w, "Verdicts: %d pass, %d fail, %d degenerate; %d transitions; final state %s\n",
		s.Passes, s.Fails, s.Degenerate, s.Transitions, s.FinalState.State)
	return code
}

// printComparison outputs a comparison table and returns the exit code.
// A tick matches when both the verdict and the resulting state agree.
func printComparison(w io.Writer, results []replay.ReplayResult, expected []replay.FixtureExpectedResult) int {
	fmt.Fprintf(w, "%-12s| %-28s| %-28s| %-28s| %s\n", "Tick", "Expected", "Replayed", "Rule", "Match")
	fmt.Fprintf(w, "%-12s+%-29s+%-29s+%-29s+%s\n",
		"------------", "-----------------------------", "-----------------------------", "-----------------------------", "------")

	total := min(len(results), len(expected))
	matches := 0
	for i := 0; i < total; i++ {
		exp, got := expected[i], results[i]
		match := "DIFF"
		if outcomeMatches(exp, got) {
			match = "OK"
			matches++
		}
		fmt.Fprintf(w, "%-12s| %-28s| %-28s| %-28s| %s\n",
			shortID(got.TickID), outcome(exp.Verdict, exp.State), outcome(got.Verdict, got.State), got.Rule, match)
	}

	diverge := total - matches
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)

	if diverge > 0 || len(results) != len(expected) {
		return 1
	}
	return 0
}

func outcomeMatches(exp replay.FixtureExpectedResult, got replay.ReplayResult) bool {
	return exp.Verdict == got.Verdict && exp.State == got.State
}

func outcome(v verify.Verdict, s state.State) string {
	return fmt.Sprintf("%s/%s", v, s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
