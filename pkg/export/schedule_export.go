package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

var columns = []string{"Entry ID", "Series ID", "Title", "Status", "Start", "End", "Assignees", "Work Item"}

// ScheduleCSV renders a range of schedule entries as CSV bytes.
func ScheduleCSV(entries []models.ScheduleEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i := range entries {
		if err := writer.Write(entryRecord(&entries[i])); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// SchedulePDF renders a range of schedule entries as a tabular PDF with a
// range caption.
func SchedulePDF(entries []models.ScheduleEntry, rangeStart, rangeEnd time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	caption := fmt.Sprintf("Schedule %s - %s", rangeStart.Format("2006-01-02"), rangeEnd.Format("2006-01-02"))
	pdf.CellFormat(0, 10, caption, "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 9)
	colWidth := 277.0 / float64(len(columns))
	for _, header := range columns {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for i := range entries {
		for _, value := range entryRecord(&entries[i]) {
			pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func entryRecord(e *models.ScheduleEntry) []string {
	seriesID := ""
	if e.OriginalEntryID != nil {
		seriesID = *e.OriginalEntryID
	}
	workItem := ""
	if e.WorkItemRef != nil {
		workItem = *e.WorkItemRef
	}
	return []string{
		e.ID,
		seriesID,
		e.Title,
		string(e.Status),
		e.ScheduledStart.Format(time.RFC3339),
		e.ScheduledEnd.Format(time.RFC3339),
		strings.Join(e.AssignedUserIDs, ";"),
		workItem,
	}
}
