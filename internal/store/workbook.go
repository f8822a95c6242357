package store

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"autoshift/internal/model"
)

var (
	shiftHeader   = []any{"Day", "Start Time", "End Time", "Comment"}
	failureHeader = []any{"Timestamp", "Operation", "Message"}
)

// readWorkbook decodes the file at path. Filesystem errors are returned as-is
// so the caller can tell "missing" from "unreadable"; a file excelize cannot
// open is returned as a plain error (treated as corrupt); malformed rows are
// ErrStorage.
func readWorkbook(path string) (*workbook, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := excelize.OpenReader(fh)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &workbook{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", model.ErrStorage, sheet, err)
		}
		if strings.EqualFold(sheet, FailureSheet) {
			wb.failures = decodeFailures(rows)
			continue
		}
		shifts, err := decodeShifts(sheet, rows)
		if err != nil {
			return nil, err
		}
		wb.categories = append(wb.categories, model.Category{Name: sheet, Shifts: shifts})
	}
	return wb, nil
}

func decodeShifts(sheet string, rows [][]string) ([]model.ShiftRecord, error) {
	shifts := make([]model.ShiftRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "Day") {
			continue
		}
		if blank(row) {
			continue
		}
		cells := make([]string, 4)
		copy(cells, row)

		rec, err := decodeShift(cells)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q row %d: %v", model.ErrStorage, sheet, i+1, err)
		}
		shifts = append(shifts, rec)
	}
	sortShifts(shifts)
	return shifts, nil
}

func decodeShift(cells []string) (model.ShiftRecord, error) {
	day, err := model.ParseWeekday(cells[0])
	if err != nil {
		return model.ShiftRecord{}, err
	}
	start, err := model.ParseClock(cells[1])
	if err != nil {
		return model.ShiftRecord{}, err
	}
	end, err := model.ParseClock(cells[2])
	if err != nil {
		return model.ShiftRecord{}, err
	}
	return model.ShiftRecord{Day: day, Start: start, End: end, Comment: strings.TrimSpace(cells[3])}, nil
}

func decodeFailures(rows [][]string) []model.Failure {
	out := make([]model.Failure, 0, len(rows))
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		cells := make([]string, 3)
		copy(cells, row)
		ts, _ := time.Parse(time.RFC3339, cells[0])
		out = append(out, model.Failure{Timestamp: ts, Operation: cells[1], Message: cells[2]})
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// encodeWorkbook renders wb as a complete .xlsx file.
func encodeWorkbook(wb *workbook) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	sheets := make([]string, 0, len(wb.categories)+1)
	for _, c := range wb.categories {
		sheets = append(sheets, c.Name)
	}
	sheets = append(sheets, FailureSheet)

	defaultSheet := f.GetSheetName(0)
	for i, name := range sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	for _, c := range wb.categories {
		rows := make([][]any, 0, len(c.Shifts))
		for _, s := range c.Shifts {
			rows = append(rows, []any{s.Day.String(), s.Start.String(), s.End.String(), s.Comment})
		}
		if err := writeSheet(f, c.Name, shiftHeader, rows, bold); err != nil {
			return nil, err
		}
	}

	rows := make([][]any, 0, len(wb.failures))
	for _, fl := range wb.failures {
		rows = append(rows, []any{fl.Timestamp.UTC().Format(time.RFC3339), fl.Operation, fl.Message})
	}
	if err := writeSheet(f, FailureSheet, failureHeader, rows, bold); err != nil {
		return nil, err
	}

	// A workbook needs one visible sheet, so the log is only hidden once a
	// category sheet exists to hold focus.
	if len(wb.categories) > 0 {
		f.SetActiveSheet(0)
		if err := f.SetSheetVisible(FailureSheet, false); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "D", 16)
}
