package simulation

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"pixrouter/selector"
)

const batchRuleset = `{
  "id": 9, "version": 1, "default_gateway": "CELCOIN",
  "gateways": ["CELCOIN", "TRANSFEERA"],
  "rules": [
    {"id": 1, "priority": 1, "enabled": true,
     "condition_type": "USER", "condition_value": 777,
     "action": {"route": "DENY", "reason_code": "blocked_user"}},
    {"id": 2, "priority": 2, "enabled": true,
     "condition_type": "PIX_KEY_TYPE", "condition_value": "EMAIL",
     "action": {"route": "FIXED", "gateway": "TRANSFEERA"}}
  ]
}`

const batchInput = `api_user_id|pix_key|pix_key_type|amount|gateway
777|52998224725||10.00|
1001|payee@example.com||25.50|TRANSFEERA
1002|52998224725|CPF|100.00|celcoin
1003|11998765432||5.00|TRANSFEERA
oops|52998224725||1.00|
`

func newTestRunner(t *testing.T, doc string, seed uint64) *Runner {
	t.Helper()
	snap, err := selector.CompileJSON([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	runner, err := NewRunner(Config{
		Snapshot: snap,
		Seed:     seed,
		Now:      time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestRunBatch(t *testing.T) {
	runner := newTestRunner(t, batchRuleset, 1)

	report, err := runner.Run(context.Background(), strings.NewReader(batchInput))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.RunID == uuid.Nil {
		t.Fatalf("expected run id to be assigned")
	}
	if len(report.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(report.Results))
	}

	denied := report.Results[0]
	if denied.Kind != "denied" || denied.Reason != "blocked_user" || denied.RuleID != 1 {
		t.Fatalf("unexpected denied row: %+v", denied)
	}

	routed := report.Results[1]
	if routed.Kind != "routed" || routed.Gateway != "TRANSFEERA" {
		t.Fatalf("unexpected routed row: %+v", routed)
	}
	if routed.PixKeyType != "EMAIL" {
		t.Fatalf("expected derived pix key type EMAIL, got %s", routed.PixKeyType)
	}
	if !routed.Match {
		t.Fatalf("expected routed row to match expectation")
	}

	defaulted := report.Results[2]
	if defaulted.Kind != "defaulted" || defaulted.Gateway != "CELCOIN" || !defaulted.Match {
		t.Fatalf("unexpected defaulted row: %+v", defaulted)
	}

	mismatched := report.Results[3]
	if mismatched.Kind != "defaulted" || mismatched.Match {
		t.Fatalf("expected mismatch on phone row: %+v", mismatched)
	}
	if mismatched.PixKeyType != "PHONE" {
		t.Fatalf("expected derived pix key type PHONE, got %s", mismatched.PixKeyType)
	}

	if report.Results[4].Err == "" {
		t.Fatalf("expected parse error on last row")
	}

	sum := report.Summary
	if sum.Total != 5 || sum.Denied != 1 || sum.Routed != 1 || sum.Defaulted != 2 || sum.Errors != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Compared != 3 || sum.Mismatched != 1 {
		t.Fatalf("unexpected comparison counts: %+v", sum)
	}
	if sum.ByGateway["CELCOIN"] != 2 || sum.ByGateway["TRANSFEERA"] != 1 {
		t.Fatalf("unexpected gateway tally: %+v", sum.ByGateway)
	}
}

func TestRunRequiresColumns(t *testing.T) {
	runner := newTestRunner(t, batchRuleset, 1)

	_, err := runner.Run(context.Background(), strings.NewReader("api_user_id|pix_key\n1|52998224725\n"))
	if err == nil || !strings.Contains(err.Error(), "amount") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	doc := `{
  "id": 11, "version": 1, "default_gateway": "CELCOIN",
  "gateways": ["CELCOIN", "TRANSFEERA"],
  "rules": [
    {"id": 1, "priority": 1, "enabled": true,
     "condition_type": "PIX_KEY_TYPE", "condition_value": "CPF",
     "action": {"route": "WEIGHTED", "weights": {"CELCOIN": 50, "TRANSFEERA": 50}}}
  ]
}`

	var input strings.Builder
	input.WriteString("api_user_id|pix_key|pix_key_type|amount\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&input, "%d|52998224725|CPF|10.00\n", 1000+i)
	}

	gateways := func() []string {
		runner := newTestRunner(t, doc, 42)
		report, err := runner.Run(context.Background(), strings.NewReader(input.String()))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		out := make([]string, 0, len(report.Results))
		for _, res := range report.Results {
			if res.Kind != "routed" {
				t.Fatalf("expected routed row, got %+v", res)
			}
			out = append(out, res.Gateway)
		}
		return out
	}

	first := gateways()
	second := gateways()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("draw %d differs across identically seeded runs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestWriteReports(t *testing.T) {
	runner := newTestRunner(t, batchRuleset, 1)
	report, err := runner.Run(context.Background(), strings.NewReader(batchInput))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	files, err := WriteReports(t.TempDir(), report.Results)
	if err != nil {
		t.Fatalf("write reports: %v", err)
	}
	if files.Count != 5 {
		t.Fatalf("unexpected report count: %d", files.Count)
	}

	f, err := os.Open(files.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d", len(records))
	}
	if records[0][0] != "row" || records[0][6] != "gateway" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][5] != "denied" || records[1][8] != "blocked_user" {
		t.Fatalf("unexpected denied record: %v", records[1])
	}
	if records[2][6] != "TRANSFEERA" || records[2][10] != "true" {
		t.Fatalf("unexpected routed record: %v", records[2])
	}
	if records[4][10] != "false" {
		t.Fatalf("expected mismatch flag on phone record: %v", records[4])
	}

	info, err := os.Stat(files.ParquetPath)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("parquet report is empty")
	}
}
