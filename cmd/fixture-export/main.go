package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/replay"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to tsc_controller.db")
	limit := flag.Int("limit", 0, "export at most N journaled ticks, oldest first (0 = all)")
	outPath := flag.String("out", "", "output fixture JSON path")
	description := flag.String("description", "", "fixture description")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --out path/to/fixture.json [--limit N] [--description text]")
		os.Exit(2)
	}

	if err := run(*dbPath, *limit, *outPath, *description); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath string, limit int, outPath, description string) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	rows, err := logging.ReadTicks(store.DB(), limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no journaled ticks in %s", dbPath)
	}
	fmt.Printf("Found %d journaled ticks\n", len(rows))

	if description == "" {
		description = fmt.Sprintf("Journal export: %d ticks from %s", len(rows), dbPath)
	}
	fixtures, err := replay.FixturesFromTicks(description, rows)
	if err != nil {
		return err
	}
	for i, fixture := range fixtures {
		path := outPath
		if len(fixtures) > 1 {
			path = partPath(outPath, i+1)
		}
		if err := replay.WriteFixture(path, fixture); err != nil {
			return err
		}
		fmt.Printf("Wrote fixture to %s (%d windows, start state %s)\n", path, len(fixture.Windows), fixture.StartState.State)
	}
	return nil
}

// partPath numbers out for journals split by a threshold change: fixture.json becomes
// fixture-1.json, fixture-2.json and so on.
func partPath(out string, part int) string {
	ext := filepath.Ext(out)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(out, ext), part, ext)
}

// #endregion export
