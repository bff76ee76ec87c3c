// Package reporting renders threat reports to PDF.
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/jung-kurt/gofpdf"
)

// PDFReporter renders a snapshot of detections as a threat report.
type PDFReporter struct{}

// NewPDFReporter creates a new reporter instance.
func NewPDFReporter() *PDFReporter {
	return &PDFReporter{}
}

// Generate writes the report for a detection snapshot. Detections are
// expected pre-sorted by severity, the order the engine's snapshot uses.
func (e *PDFReporter) Generate(w io.Writer, detections []domain.Detection, generatedAt time.Time) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, generatedAt)
	e.addSummary(pdf, detections)
	e.addDetectionTable(pdf, detections)
	e.addAnomalyDetail(pdf, detections)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("generating PDF: %w", err)
	}
	return nil
}

func (e *PDFReporter) addHeader(pdf *gofpdf.Fpdf, generatedAt time.Time) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 15, "Surveillance Threat Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(8)
}

func (e *PDFReporter) addSummary(pdf *gofpdf.Fpdf, detections []domain.Detection) {
	counts := map[domain.ThreatLevel]int{}
	for _, d := range detections {
		counts[d.Level]++
	}

	top := domain.LevelInfo
	for _, d := range detections {
		if d.Level.Rank() > top.Rank() {
			top = d.Level
		}
	}
	r, g, b := levelColor(top)
	pdf.SetFillColor(r, g, b)
	pdf.Rect(20, pdf.GetY(), 170, 22, "F")

	y := pdf.GetY()
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(25, y+4)
	pdf.CellFormat(0, 8, string(top), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.SetXY(25, y+13)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d active detections", len(detections)), "", 1, "L", false, 0, "")
	pdf.SetY(y + 26)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(60, 60, 60)
	for _, lvl := range []domain.ThreatLevel{domain.LevelCritical, domain.LevelHigh, domain.LevelMedium, domain.LevelLow, domain.LevelInfo} {
		if counts[lvl] > 0 {
			pdf.CellFormat(34, 6, fmt.Sprintf("%s: %d", lvl, counts[lvl]), "", 0, "L", false, 0, "")
		}
	}
	pdf.Ln(12)
}

func (e *PDFReporter) addDetectionTable(pdf *gofpdf.Fpdf, detections []domain.Detection) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 8, "Detections", "", 1, "L", false, 0, "")
	pdf.Ln(1)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(240, 240, 240)
	pdf.SetTextColor(40, 40, 40)
	pdf.CellFormat(25, 7, "Level", "1", 0, "L", true, 0, "")
	pdf.CellFormat(22, 7, "Score", "1", 0, "R", true, 0, "")
	pdf.CellFormat(40, 7, "Device", "1", 0, "L", true, 0, "")
	pdf.CellFormat(22, 7, "Protocol", "1", 0, "L", true, 0, "")
	pdf.CellFormat(43, 7, "Identity", "1", 0, "L", true, 0, "")
	pdf.CellFormat(18, 7, "Seen", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, d := range detections {
		r, g, b := levelColor(d.Level)
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(25, 6, string(d.Level), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(40, 40, 40)
		pdf.CellFormat(22, 6, fmt.Sprintf("%.0f", d.Score.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, string(d.DeviceType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, string(d.Protocol), "1", 0, "L", false, 0, "")
		pdf.CellFormat(43, 6, truncate(d.Identity, 26), "1", 0, "L", false, 0, "")
		pdf.CellFormat(18, 6, fmt.Sprintf("%dx", d.SeenCount), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(8)
}

func (e *PDFReporter) addAnomalyDetail(pdf *gofpdf.Fpdf, detections []domain.Detection) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 8, "Evidence", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(60, 60, 60)
	for _, d := range detections {
		if len(d.Anomalies) == 0 {
			continue
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("%s (%s)", d.Identity, d.DeviceType), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		for _, a := range d.Anomalies {
			line := fmt.Sprintf("  %s  conf %.2f", a.Type, a.Confidence)
			for _, f := range a.Factors {
				if f.Detail != "" {
					line += "  - " + f.Detail
					break
				}
			}
			pdf.CellFormat(0, 5, truncate(line, 110), "", 1, "L", false, 0, "")
		}
		pdf.Ln(2)
	}
}

func levelColor(l domain.ThreatLevel) (int, int, int) {
	switch l {
	case domain.LevelCritical:
		return 192, 31, 31
	case domain.LevelHigh:
		return 224, 120, 27
	case domain.LevelMedium:
		return 222, 185, 22
	case domain.LevelLow:
		return 62, 134, 190
	default:
		return 120, 120, 120
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
