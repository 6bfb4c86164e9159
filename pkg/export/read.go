package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/lucid-vigil/honeyshift/pkg/cowrie"
	"github.com/lucid-vigil/honeyshift/pkg/errors"
)

// ReadRecords loads an exported CSV as one map per row. Empty cells become nil.
func ReadRecords(csvPath string) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	err := eachRow(csvPath, func(header, row []string) {
		rec := make(map[string]interface{}, len(header))
		for i, col := range header {
			if row[i] == "" {
				rec[col] = nil
			} else {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	})
	if records == nil && err == nil {
		records = []map[string]interface{}{}
	}
	return records, err
}

// ReadEntries loads an exported CSV back into entries. Rows whose timestamp
// is missing or unparseable are skipped and counted.
func ReadEntries(csvPath string) ([]cowrie.Entry, int, error) {
	var (
		entries []cowrie.Entry
		skipped int
	)
	err := eachRow(csvPath, func(header, row []string) {
		fields := make(map[string]interface{}, len(header))
		for i, col := range header {
			if row[i] != "" {
				fields[col] = row[i]
			}
		}
		e, err := cowrie.NewEntry(fields)
		if err != nil {
			skipped++
			return
		}
		entries = append(entries, e)
	})
	return entries, skipped, err
}

func eachRow(csvPath string, fn func(header, row []string)) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return errors.NewResourceMissingError(componentName, csvPath, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", csvPath, err)
	}
	cr.FieldsPerRecord = len(header)

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", csvPath, err)
		}
		fn(header, row)
	}
}
