// Package export renders weekly settlement reports for payroll hand-off.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

var lineHeaders = []string{
	"Ticket ID",
	"Ticket Number",
	"Delivery Date",
	"Material",
	"Quantity",
	"Unit",
	"Pay Rate",
	"Payable",
	"Billable",
	"Status",
	"Reconciliation",
	"Confidence",
}

func lineValues(l domain.ReportLine) []any {
	return []any{
		l.TicketID,
		l.TicketNumber,
		l.DeliveryDate.Format(time.DateOnly),
		l.MaterialType,
		l.Quantity,
		l.Unit,
		l.PayRate,
		l.PayableAmount,
		l.BillableAmount,
		string(l.Status),
		string(l.Reconciliation),
		l.Confidence,
	}
}

// Filename is the suggested attachment name for a report export.
func Filename(rep domain.Report, ext string) string {
	return fmt.Sprintf("payweek_%s_%s.%s", rep.DriverID, rep.WeekEnding.Format("20060102"), ext)
}

// WriteCSV writes one row per ticket line followed by the week totals.
func WriteCSV(w io.Writer, rep domain.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(lineHeaders); err != nil {
		return err
	}
	for _, l := range rep.Lines {
		vals := lineValues(l)
		row := make([]string, len(vals))
		for i, v := range vals {
			row[i] = csvValue(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	totals := [][]string{
		{},
		{"Driver", rep.DriverID},
		{"Week", rep.WeekStart.Format(time.DateOnly) + " to " + rep.WeekEnding.Format(time.DateOnly)},
		{"Total Tickets", strconv.Itoa(rep.TotalTickets)},
		{"Total Quantity", csvValue(rep.TotalQuantity)},
		{"Gross Pay", csvValue(rep.GrossPay)},
		{"Gross Billing", csvValue(rep.GrossBilling)},
		{"Revenue At Risk", csvValue(rep.RevenueAtRisk)},
		{"Flagged", strconv.Itoa(len(rep.Flagged))},
	}
	if err := cw.WriteAll(totals); err != nil {
		return err
	}
	return cw.Error()
}

func csvValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// XLSX renders the report as a workbook with Tickets, Flagged and Summary sheets.
func XLSX(rep domain.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const (
		ticketsSheet = "Tickets"
		flaggedSheet = "Flagged"
		summarySheet = "Summary"
	)
	if err := f.SetSheetName("Sheet1", ticketsSheet); err != nil {
		return nil, err
	}
	for _, name := range []string{flaggedSheet, summarySheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	writeRow := func(sheet string, row int, vals []any) {
		for i, v := range vals {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	writeHeader := func(sheet string, headers []string) {
		vals := make([]any, len(headers))
		for i, h := range headers {
			vals[i] = h
		}
		writeRow(sheet, 1, vals)
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, headerStyle)
	}

	writeHeader(ticketsSheet, lineHeaders)
	for i, l := range rep.Lines {
		writeRow(ticketsSheet, i+2, lineValues(l))
	}
	_ = f.SetColWidth(ticketsSheet, "A", "B", 22)
	_ = f.SetColWidth(ticketsSheet, "C", "C", 14)
	_ = f.SetColWidth(ticketsSheet, "D", "D", 20)
	_ = f.SetColWidth(ticketsSheet, "J", "K", 16)

	writeHeader(flaggedSheet, []string{"Ticket ID", "Ticket Number", "Delivery Date", "Status", "Reconciliation", "Confidence", "Payable", "Reasons"})
	for i, item := range rep.Flagged {
		writeRow(flaggedSheet, i+2, []any{
			item.TicketID,
			item.TicketNumber,
			item.DeliveryDate.Format(time.DateOnly),
			string(item.Status),
			string(item.Reconciliation),
			item.Confidence,
			item.PayableAmount,
			strings.Join(item.Reasons, "; "),
		})
	}
	_ = f.SetColWidth(flaggedSheet, "A", "B", 22)
	_ = f.SetColWidth(flaggedSheet, "H", "H", 80)

	summary := [][]any{
		{"Driver", rep.DriverID},
		{"Week Start", rep.WeekStart.Format(time.DateOnly)},
		{"Week Ending", rep.WeekEnding.Format(time.DateOnly)},
		{"Total Tickets", rep.TotalTickets},
		{"Total Quantity", rep.TotalQuantity},
		{"Gross Pay", rep.GrossPay},
		{"Gross Billing", rep.GrossBilling},
		{"Revenue At Risk", rep.RevenueAtRisk},
		{"Flagged", len(rep.Flagged)},
		{"Generated At", rep.GeneratedAt.Format(time.RFC3339)},
	}
	row := 1
	for _, r := range summary {
		writeRow(summarySheet, row, r)
		row++
	}
	row++
	for _, status := range sortedStatuses(rep.StatusCounts) {
		writeRow(summarySheet, row, []any{"Status: " + string(status), rep.StatusCounts[status]})
		row++
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedStatuses(counts map[domain.TicketStatus]int) []domain.TicketStatus {
	out := make([]domain.TicketStatus, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
