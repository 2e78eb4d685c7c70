// Package export renders report datasets to the download formats the API
// offers. Datasets are ordered header lists plus string rows so transcripts
// and grade sheets share one rendering path.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset is tabular report content. Row values are keyed by header name;
// a missing key renders as an empty cell.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders a Dataset as RFC 4180 CSV.
type CSVExporter struct{}

// NewCSVExporter returns a CSV renderer.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render encodes the dataset, emitting columns in header order.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for _, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
