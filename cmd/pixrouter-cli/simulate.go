package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"pixrouter/selector"
	"pixrouter/simulation"
)

// runSimulate replays a pipe-delimited batch file against a compiled
// document with a fixed seed and clock, writes the CSV and Parquet
// reports, and prints a summary. Mismatches against the expected-gateway
// column fail the run.
func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	rulesPath := fs.String("rules", "", "path to the ruleset document (required)")
	inputPath := fs.String("input", "", "path to the batch CSV, pipe-delimited (required)")
	outDir := fs.String("out", "simulation-out", "directory for results.csv and results.parquet")
	seed := fs.Uint64("seed", 1, "seed for non-sticky weighted draws")
	nowFlag := fs.String("now", "", "evaluation instant, RFC 3339 (default: current UTC time)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *rulesPath == "" || *inputPath == "" {
		return usageError("usage: pixrouter-cli simulate -rules <ruleset.json> -input <batch.csv> [-out dir] [-seed n] [-now ts]")
	}

	now := time.Now().UTC()
	if *nowFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			return usageError(fmt.Sprintf("invalid -now value: %v", err))
		}
		now = parsed
	}

	data, err := os.ReadFile(*rulesPath)
	if err != nil {
		return fmt.Errorf("read ruleset: %w", err)
	}
	snap, err := selector.CompileJSON(data)
	if err != nil {
		return fmt.Errorf("compile ruleset: %w", err)
	}

	input, err := os.Open(*inputPath)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer input.Close()

	runner, err := simulation.NewRunner(simulation.Config{Snapshot: snap, Seed: *seed, Now: now})
	if err != nil {
		return err
	}
	report, err := runner.Run(context.Background(), input)
	if err != nil {
		return err
	}
	files, err := simulation.WriteReports(*outDir, report.Results)
	if err != nil {
		return err
	}

	printSummary(report, files)
	if report.Summary.Mismatched > 0 || report.Summary.Errors > 0 {
		return fmt.Errorf("simulation finished with %d mismatch(es) and %d error(s)",
			report.Summary.Mismatched, report.Summary.Errors)
	}
	return nil
}

func printSummary(report *simulation.Report, files simulation.ReportFiles) {
	s := report.Summary
	fmt.Printf("run %s: %d row(s) in %s\n", report.RunID, s.Total, report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  routed    %6d\n", s.Routed)
	fmt.Printf("  denied    %6d\n", s.Denied)
	fmt.Printf("  defaulted %6d\n", s.Defaulted)
	fmt.Printf("  no match  %6d\n", s.NoMatch)
	fmt.Printf("  errors    %6d\n", s.Errors)
	if s.Compared > 0 {
		fmt.Printf("  compared  %6d (%d mismatched)\n", s.Compared, s.Mismatched)
	}

	gateways := make([]string, 0, len(s.ByGateway))
	for name := range s.ByGateway {
		gateways = append(gateways, name)
	}
	sort.Strings(gateways)
	for _, name := range gateways {
		fmt.Printf("  %-12s%6d\n", name, s.ByGateway[name])
	}
	fmt.Printf("reports: %s, %s\n", files.CSVPath, files.ParquetPath)
}
