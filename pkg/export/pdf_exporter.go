package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth   = 190.0
	headerRowH  = 8.0
	bodyRowH    = 7.0
	titleFontPt = 14
)

// PDFExporter renders a Dataset as a single-table A4 document, suitable for
// transcripts and section grade sheets.
type PDFExporter struct{}

// NewPDFExporter returns a PDF renderer.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render lays out the optional title followed by the dataset as an
// evenly-divided bordered table.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(10, 15, 10)
	doc.AddPage()

	if title != "" {
		doc.SetFont("Arial", "B", titleFontPt)
		doc.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
		doc.Ln(5)
	}

	colWidth := pageWidth / float64(len(data.Headers))
	doc.SetFont("Arial", "B", 10)
	for _, header := range data.Headers {
		doc.CellFormat(colWidth, headerRowH, header, "1", 0, "C", false, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			doc.CellFormat(colWidth, bodyRowH, row[header], "1", 0, "", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
