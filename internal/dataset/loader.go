package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadCSV reads a delimited text file into a Dataset.
//
// The first row is treated as the header. Column names are trimmed; cell
// values are kept verbatim (normalization decides about whitespace). Rows
// whose cell count differs from the header produce ErrRaggedRow with the
// offending line number - malformed input must never reach the stores.
func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	return ReadCSV(file)
}

// ReadCSV reads delimited text from r into a Dataset. See LoadCSV.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	// FieldsPerRecord -1: we enforce row width ourselves to return a typed error.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrDataFormat)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(col)
	}

	var rows [][]string

	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line+1, err)
		}

		line++

		if len(record) != len(columns) {
			return nil, fmt.Errorf("%w: line %d has %d cells, header has %d",
				ErrRaggedRow, line, len(record), len(columns))
		}

		rows = append(rows, record)
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}
