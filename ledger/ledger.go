// Package ledger maintains the confirmed-records workbook: one XLSX
// sheet with a fixed header, one row per confirmed delivery note.
package ledger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/robertolibanora/ddt-extractor/extraction"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the ledger package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

const sheetName = "DDT"

// headers is the fixed column order of the workbook.
var headers = []string{"data", "mittente", "destinatario", "numero_documento", "totale_kg"}

// Ledger is a thread-safe XLSX ledger on disk. Every operation loads,
// mutates and saves the whole workbook; volumes here are a few rows per
// day, not a database.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New creates a ledger over the workbook at path. The file itself is
// created lazily on first write.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Upsert writes one confirmed record. The pair (numero_documento,
// mittente) identifies a row: confirming the same document twice
// replaces the earlier row instead of duplicating it. Returns true when
// a new row was appended, false when an existing one was replaced.
func (l *Ledger) Upsert(d extraction.DocumentData) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return false, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	target := len(rows) + 1 // 1-based; default: append after the last row
	appended := true
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) >= 4 && sameKey(row[3], d.NumeroDocumento) && sameKey(row[1], d.Mittente) {
			target = i + 1
			appended = false
			break
		}
	}

	values := []any{d.Data, d.Mittente, d.Destinatario, d.NumeroDocumento, d.TotaleKg}
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, target)
		if err != nil {
			return false, fmt.Errorf("failed to compute ledger cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return false, fmt.Errorf("failed to write ledger cell %s: %w", cell, err)
		}
	}

	if err := l.save(f); err != nil {
		return false, err
	}

	log.WithFields(logrus.Fields{
		"numero":   d.NumeroDocumento,
		"mittente": d.Mittente,
		"appended": appended,
	}).Info("Ledger updated")
	return appended, nil
}

// Rows returns every data row as field maps, header excluded.
func (l *Ledger) Rows() ([]extraction.DocumentData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	var out []extraction.DocumentData
	for i, row := range rows {
		if i == 0 {
			continue
		}
		var d extraction.DocumentData
		if len(row) > 0 {
			d.Data = row[0]
		}
		if len(row) > 1 {
			d.Mittente = row[1]
		}
		if len(row) > 2 {
			d.Destinatario = row[2]
		}
		if len(row) > 3 {
			d.NumeroDocumento = row[3]
		}
		if len(row) > 4 {
			if kg, ok := extraction.NormalizeWeight(row[4]); ok {
				d.TotaleKg = kg
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// Download returns the workbook bytes for an HTTP attachment.
func (l *Ledger) Download() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize ledger workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// open loads the workbook, creating it with the header row when absent
// or unreadable.
func (l *Ledger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if err == nil {
		if index, idxErr := f.GetSheetIndex(sheetName); idxErr == nil && index >= 0 {
			return f, nil
		}
	}
	if err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", l.path).Warn("Ledger workbook unreadable, recreating")
	}

	f = excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		log.WithError(err).Debug("Could not remove default sheet")
	}

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, boldStyle); err != nil {
			return nil, fmt.Errorf("failed to style header cell %s: %w", cell, err)
		}
	}
	return f, nil
}

func (l *Ledger) save(f *excelize.File) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
		}
	}
	if err := f.SaveAs(l.path); err != nil {
		return fmt.Errorf("failed to save ledger %s: %w", l.path, err)
	}
	return nil
}

func sameKey(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
