// Package simulation replays batches of payout contexts against a compiled
// ruleset snapshot so operators can vet a document before activating it.
package simulation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pixrouter/pixkey"
	"pixrouter/selector"
)

// Config captures the dependencies required to construct a Runner.
type Config struct {
	Snapshot *selector.Snapshot
	Seed     uint64
	Now      time.Time
	Logger   *slog.Logger
}

// Runner executes batch files against one snapshot. A fixed seed and clock
// make weighted draws and time windows reproducible across runs.
type Runner struct {
	snap   *selector.Snapshot
	seed   uint64
	now    time.Time
	logger *slog.Logger
}

// Result pairs one input row with the decision the snapshot produced.
type Result struct {
	Row        int
	APIUserID  string
	PixKey     string
	PixKeyType string
	Amount     string
	Kind       string
	Gateway    string
	RuleID     int64
	Reason     string
	Expected   string
	Match      bool
	Err        string
}

// Summary aggregates one batch run. Compared counts rows that carried an
// expected gateway, Mismatched the subset whose decision disagreed.
type Summary struct {
	Total      int
	Routed     int
	Denied     int
	Defaulted  int
	NoMatch    int
	Errors     int
	Compared   int
	Mismatched int
	ByGateway  map[string]int
}

// Report bundles per-row results with the run summary.
type Report struct {
	RunID     uuid.UUID
	Results   []Result
	Summary   Summary
	StartedAt time.Time
	Elapsed   time.Duration
}

// NewRunner builds a configured runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Snapshot == nil {
		return nil, errors.New("simulation: snapshot is required")
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{snap: cfg.Snapshot, seed: cfg.Seed, now: now, logger: logger}, nil
}

// Run parses pipe-delimited rows from input and selects a gateway for each.
// The header must name api_user_id, pix_key, and amount; pix_key_type and
// gateway (the expected outcome) are optional. A blank pix_key_type is
// derived from the key itself.
func (r *Runner) Run(ctx context.Context, input io.Reader) (*Report, error) {
	reader := csv.NewReader(input)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("simulation: read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"api_user_id", "pix_key", "amount"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("simulation: missing %s column", required)
		}
	}

	rng := rand.New(rand.NewPCG(r.seed, r.seed^0x9e3779b97f4a7c15))
	report := &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Summary:   Summary{ByGateway: make(map[string]int)},
	}
	began := time.Now()

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("simulation: row %d: %w", line, err)
		}
		result := r.evaluate(line, columns, record, rng)
		report.Results = append(report.Results, result)
		tally(&report.Summary, result)
	}

	report.Elapsed = time.Since(began)
	r.logger.Info("simulation complete",
		"run_id", report.RunID,
		"ruleset_id", r.snap.ID,
		"version", r.snap.Version,
		"rows", report.Summary.Total,
		"routed", report.Summary.Routed,
		"denied", report.Summary.Denied,
		"mismatched", report.Summary.Mismatched,
		"errors", report.Summary.Errors,
	)
	return report, nil
}

func (r *Runner) evaluate(line int, columns map[string]int, record []string, rng *rand.Rand) Result {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	result := Result{
		Row:        line,
		APIUserID:  field("api_user_id"),
		PixKey:     field("pix_key"),
		PixKeyType: field("pix_key_type"),
		Amount:     field("amount"),
		Expected:   field("gateway"),
	}

	userID, err := strconv.ParseInt(result.APIUserID, 10, 64)
	if err != nil {
		result.Err = fmt.Sprintf("bad api_user_id: %v", err)
		return result
	}
	amount, err := decimal.NewFromString(result.Amount)
	if err != nil {
		result.Err = fmt.Sprintf("bad amount: %v", err)
		return result
	}
	if result.PixKeyType == "" {
		result.PixKeyType = string(pixkey.DetectType(result.PixKey))
	}

	decision := r.snap.Select(selector.MapContext{
		"api_user_id":  userID,
		"pix_key":      result.PixKey,
		"pix_key_type": result.PixKeyType,
		"amount":       amount,
	}, selector.WithNow(r.now), selector.WithRand(rng))

	result.Kind = decision.Kind.String()
	result.Gateway = decision.Gateway
	result.RuleID = decision.RuleID
	result.Reason = decision.Reason
	if result.Expected != "" {
		result.Match = strings.EqualFold(result.Expected, decision.Gateway)
	}
	return result
}

func tally(s *Summary, result Result) {
	s.Total++
	if result.Err != "" {
		s.Errors++
		return
	}
	switch result.Kind {
	case "routed":
		s.Routed++
		s.ByGateway[result.Gateway]++
	case "denied":
		s.Denied++
	case "defaulted":
		s.Defaulted++
		s.ByGateway[result.Gateway]++
	case "no_match":
		s.NoMatch++
	}
	if result.Expected != "" {
		s.Compared++
		if !result.Match {
			s.Mismatched++
		}
	}
}
