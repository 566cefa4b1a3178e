package simulation

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ReportFiles references the artefacts written for one batch run.
type ReportFiles struct {
	CSVPath     string
	ParquetPath string
	Count       int
}

// WriteReports materialises results.csv and results.parquet under dir.
func WriteReports(dir string, results []Result) (ReportFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ReportFiles{}, fmt.Errorf("simulation: ensure output dir: %w", err)
	}
	csvPath := filepath.Join(dir, "results.csv")
	if err := writeCSV(csvPath, results); err != nil {
		return ReportFiles{}, err
	}
	parquetPath := filepath.Join(dir, "results.parquet")
	if err := writeParquet(parquetPath, results); err != nil {
		return ReportFiles{}, err
	}
	return ReportFiles{CSVPath: csvPath, ParquetPath: parquetPath, Count: len(results)}, nil
}

func writeCSV(path string, results []Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("simulation: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"row", "api_user_id", "pix_key", "pix_key_type", "amount",
		"kind", "gateway", "rule_id", "reason", "expected", "match", "error",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("simulation: write csv header: %w", err)
	}
	for _, res := range results {
		record := []string{
			strconv.Itoa(res.Row),
			res.APIUserID,
			res.PixKey,
			res.PixKeyType,
			res.Amount,
			res.Kind,
			res.Gateway,
			formatRuleID(res.RuleID),
			res.Reason,
			res.Expected,
			matchString(res),
			res.Err,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("simulation: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("simulation: flush csv: %w", err)
	}
	return nil
}

type parquetResult struct {
	Row        int32  `parquet:"name=row, type=INT32"`
	APIUserID  string `parquet:"name=api_user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PixKey     string `parquet:"name=pix_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	PixKeyType string `parquet:"name=pix_key_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gateway    string `parquet:"name=gateway, type=BYTE_ARRAY, convertedtype=UTF8"`
	RuleID     int64  `parquet:"name=rule_id, type=INT64"`
	Reason     string `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expected   string `parquet:"name=expected, type=BYTE_ARRAY, convertedtype=UTF8"`
	Match      bool   `parquet:"name=match, type=BOOLEAN"`
	Err        string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, results []Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("simulation: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetResult), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("simulation: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, res := range results {
		pr := &parquetResult{
			Row:        int32(res.Row),
			APIUserID:  res.APIUserID,
			PixKey:     res.PixKey,
			PixKeyType: res.PixKeyType,
			Amount:     res.Amount,
			Kind:       res.Kind,
			Gateway:    res.Gateway,
			RuleID:     res.RuleID,
			Reason:     res.Reason,
			Expected:   res.Expected,
			Match:      res.Match,
			Err:        res.Err,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("simulation: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("simulation: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("simulation: close parquet file: %w", err)
	}
	return nil
}

func formatRuleID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func matchString(res Result) string {
	if res.Expected == "" {
		return ""
	}
	if res.Match {
		return "true"
	}
	return "false"
}
