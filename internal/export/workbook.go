package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	DataSheet   = "Data"
	ConfigSheet = "Config"
)

// DataHeader matches the column layout of the device log sheets.
var DataHeader = []string{
	"Timestamp", "Device", "Status", "Battery", "Steps", "MaxG", "Fall",
	"CTX_User", "CTX_DeviceID", "CTX_Event", "CTX_Note", "Server_Time",
}

var ConfigHeader = []string{"User", "DeviceID", "Event", "Note", "Event_TS"}

// WriteDeviceLog writes a workbook with the device's rows on the Data sheet
// and its pending-annotation slot on the Config sheet.
func WriteDeviceLog(w io.Writer, rows []models.EnrichedRow, pending models.PendingAnnotation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return fmt.Errorf("failed to create data sheet: %w", err)
	}
	if _, err := f.NewSheet(ConfigSheet); err != nil {
		return fmt.Errorf("failed to create config sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, DataSheet, 1, toCells(DataHeader)); err != nil {
		return err
	}
	for i, row := range rows {
		if err := writeRow(f, DataSheet, i+2, dataCells(row)); err != nil {
			return err
		}
	}

	if err := writeRow(f, ConfigSheet, 1, toCells(ConfigHeader)); err != nil {
		return err
	}
	if err := writeRow(f, ConfigSheet, 2, []any{
		pending.User, pending.DeviceID, pending.Event, pending.Note, pending.EventTimestamp,
	}); err != nil {
		return err
	}

	for sheet, width := range map[string]int{DataSheet: len(DataHeader), ConfigSheet: len(ConfigHeader)} {
		last, err := excelize.CoordinatesToCellName(width, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	if err := f.SetColWidth(DataSheet, "A", "A", 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(DataSheet, "L", "L", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func dataCells(row models.EnrichedRow) []any {
	return []any{
		row.Timestamp,
		row.DeviceID,
		row.Status,
		numberCell(row.Battery),
		numberCell(row.Steps),
		numberCell(row.MaxG),
		numberCell(row.Fall),
		row.MatchedUser,
		row.MatchedDevice,
		row.MatchedEvent,
		row.MatchedNote,
		row.ServerTime.UTC().Format(time.RFC3339Nano),
	}
}

// numberCell writes numeric text as a number and anything else verbatim.
func numberCell(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func writeRow(f *excelize.File, sheet string, rowNum int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}
