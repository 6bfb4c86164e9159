// Package export converts the Cowrie JSON log to CSV and reads it back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/cowrie"
	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/rs/zerolog"
)

const componentName = "csv_export"

// leadingColumns always come first, in this order, when present.
var leadingColumns = []string{"eventid", "session", "timestamp"}

// Summary describes a finished export.
type Summary struct {
	Rows    int      `json:"rows"`
	Skipped int      `json:"skipped"`
	Columns []string `json:"columns"`
}

// ExportFile writes every JSON object line of the log at logPath to csvPath.
// Timestamps are written verbatim and not validated; only lines that are not
// a JSON object are skipped.
func ExportFile(logPath, csvPath string, logger zerolog.Logger) (Summary, error) {
	if _, err := os.Stat(logPath); err != nil {
		return Summary{}, errors.NewResourceMissingError(componentName, logPath, err)
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return Summary{}, fmt.Errorf("create %s: %w", csvPath, err)
	}

	summary, err := Write(logPath, f, logger)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", csvPath, cerr)
	}
	if err != nil {
		return summary, err
	}

	logger.Info().
		Str("log_file", logPath).
		Str("csv_file", csvPath).
		Int("rows", summary.Rows).
		Int("skipped", summary.Skipped).
		Msg("Parsed logs saved to CSV.")
	return summary, nil
}

// Write streams the log at logPath to w as CSV. The log is read twice: once
// to collect the column set, once to write rows.
func Write(logPath string, w io.Writer, logger zerolog.Logger) (Summary, error) {
	columns, err := collectColumns(logPath)
	if err != nil {
		return Summary{}, err
	}

	r, err := cowrie.Open(logPath, time.Time{}, cowrie.WithLogger(logger), cowrie.WithUntimed())
	if err != nil {
		return Summary{}, err
	}
	defer r.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	summary := Summary{Columns: columns}
	record := make([]string, len(columns))
	for r.Next() {
		fields := r.Entry().Fields
		for i, col := range columns {
			record[i] = formatValue(fields[col])
		}
		if err := cw.Write(record); err != nil {
			return summary, fmt.Errorf("write row: %w", err)
		}
		summary.Rows++
	}
	if err := r.Err(); err != nil {
		return summary, err
	}
	summary.Skipped = r.Skipped()

	cw.Flush()
	return summary, cw.Error()
}

func collectColumns(logPath string) ([]string, error) {
	r, err := cowrie.Open(logPath, time.Time{}, cowrie.WithUntimed())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	seen := make(map[string]bool)
	for r.Next() {
		for k := range r.Entry().Fields {
			seen[k] = true
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	var columns []string
	for _, k := range leadingColumns {
		if seen[k] {
			columns = append(columns, k)
			delete(seen, k)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(columns, rest...), nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
