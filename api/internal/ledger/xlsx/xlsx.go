// Package xlsx is a ledger backend writing to a local .xlsx workbook, for
// running without a Google account.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"card-ledger/api/internal/ledger"
)

type Workbook struct {
	path  string
	sheet string

	mu sync.Mutex
}

// New returns a backend for the workbook at path. The file is created on the
// first append. sheet selects the worksheet; empty means the first one.
func New(path, sheet string) (*Workbook, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("xlsx: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("xlsx: create dir: %w", err)
	}
	return &Workbook{path: path, sheet: strings.TrimSpace(sheet)}, nil
}

func (w *Workbook) Path() string { return w.path }

func (w *Workbook) open() (*excelize.File, string, error) {
	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
	} else if err != nil {
		return nil, "", fmt.Errorf("xlsx: open %s: %w", w.path, err)
	}

	name := w.sheet
	if name == "" {
		return f, f.GetSheetName(0), nil
	}
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("xlsx: sheet %q: %w", name, err)
	}
	if idx < 0 {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, "", fmt.Errorf("xlsx: new sheet %q: %w", name, err)
		}
	}
	return f, name, nil
}

func (w *Workbook) RowCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, sheet, err := w.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("xlsx: read %s: %w", sheet, err)
	}
	return len(rows), nil
}

// Append writes row below the last used row. Formula cells are stored as
// formulas in UserEntered mode and as text in Raw mode.
func (w *Workbook) Append(ctx context.Context, row ledger.Row, mode ledger.InputMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, sheet, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: read %s: %w", sheet, err)
	}
	r := len(rows) + 1

	for i, c := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, r)
		if err != nil {
			return fmt.Errorf("xlsx: cell name: %w", err)
		}
		switch {
		case c.Kind == ledger.NumberCell:
			err = f.SetCellValue(sheet, cell, c.Encode(mode))
		case c.Kind == ledger.FormulaCell && mode == ledger.UserEntered:
			err = f.SetCellFormula(sheet, cell, strings.TrimPrefix(c.Value, "="))
		default:
			err = f.SetCellStr(sheet, cell, c.Value)
		}
		if err != nil {
			return fmt.Errorf("xlsx: write %s: %w", cell, err)
		}
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("xlsx: save %s: %w", w.path, err)
	}
	return nil
}
