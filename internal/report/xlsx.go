package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	dailySheet   = "Daily"
	dateFormat   = "2006-01-02"
)

var (
	summaryHeader = []any{"User", "Role", "Principal", "Current Value", "Share Ratio", "Protected", "Protection Ratio", "Window Profit", "Cumulative Profit", "Window Share"}
	dailyHeader   = []any{"User", "Date", "Daily Profit", "Cumulative Profit", "Share Amount"}
)

// WriteXLSX writes the report as a workbook with a per-account summary sheet
// and a sheet of daily records. Amounts are written as numbers.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		return fmt.Errorf("failed to create daily sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]any{summaryHeader}
	daily := [][]any{dailyHeader}
	for _, u := range r.Users {
		ratio, protected, protection := "", "no", ""
		if a := u.Agreement; a != nil {
			ratio = a.ProfitShareRatio.String()
			if a.IsCapitalProtected {
				protected, protection = "yes", a.CapitalProtectionRatio.String()
			}
		}
		summary = append(summary, []any{
			u.User.Username, u.User.Role,
			u.User.Principal.InexactFloat64(), u.CurrentValue.InexactFloat64(),
			ratio, protected, protection,
			u.TotalDaily().InexactFloat64(), u.Cumulative().InexactFloat64(), u.TotalShare().InexactFloat64(),
		})
		for _, rec := range u.Records {
			daily = append(daily, []any{
				u.User.Username, rec.Date.Format(dateFormat),
				rec.DailyProfit.InexactFloat64(), rec.CumulativeProfit.InexactFloat64(), rec.ShareAmount.InexactFloat64(),
			})
		}
	}

	for sheet, rows := range map[string][][]any{summarySheet: summary, dailySheet: daily} {
		if err := writeRows(f, sheet, rows, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 16)
}
