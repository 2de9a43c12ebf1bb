// Package export writes local records to spreadsheets for the data
// management screen.
package export

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// SheetName is the worksheet holding the records
const SheetName = "Caracterizaciones"

const timeFormat = "2006-01-02 15:04:05"

var headers = []string{
	"ID",
	"Radicado local",
	"Radicado oficial",
	"Estado",
	"Documento beneficiario",
	"Asesor",
	"Creado",
	"Actualizado",
	"Sincronizado",
	"Intentos",
	"Ultimo error",
	"Datos",
}

// WriteXLSX writes records as one row each, in the given order
func WriteXLSX(w io.Writer, records []models.Characterization) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := sw.SetColWidth(2, 3, 28); err != nil {
		return err
	}
	if err := sw.SetColWidth(7, 9, 20); err != nil {
		return err
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row(rec)); err != nil {
			return fmt.Errorf("write record %s: %w", rec.LocalReference, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes records to a file at path
func SaveXLSX(path string, records []models.Characterization) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteXLSX(out, records); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func row(rec models.Characterization) []any {
	synced := ""
	if rec.SyncedAt != nil {
		synced = formatTime(*rec.SyncedAt)
	}
	owner := rec.Owner.Email
	if owner == "" {
		owner = rec.Owner.ID
	}
	return []any{
		strconv.FormatInt(rec.ID, 10),
		rec.LocalReference,
		rec.OfficialReference,
		string(rec.Status),
		rec.DocumentNumber(),
		owner,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		synced,
		strconv.Itoa(rec.SyncAttemptCount),
		rec.LastSyncError,
		string(rec.Payload),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}
