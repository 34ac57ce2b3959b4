package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

var _ pipeline.Notifier = (*Ledger)(nil)

// LedgerSheet is the worksheet outcomes are appended to.
const LedgerSheet = "Outcomes"

// LedgerHeader is the first row of the ledger sheet.
var LedgerHeader = []string{
	"Run ID", "Status", "Source", "Recorded", "Title", "Date", "Hour", "Minute",
	"Place", "Raw Date", "Raw Time", "Fallback", "Failed Stage", "Reason",
	"Started", "Duration (ms)",
}

// Ledger appends every outcome, completed or failed, as a row of an .xlsx
// workbook.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger creates a ledger at path. The workbook is created on first use.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Notify appends one row for outcome.
func (l *Ledger) Notify(ctx context.Context, outcome pipeline.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(LedgerSheet)
	if err != nil {
		return fmt.Errorf("read ledger rows: %w", err)
	}

	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	row := ledgerRow(outcome)
	if err := f.SetSheetRow(LedgerSheet, cell, &row); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}

	return l.save(f)
}

// Rows returns the data rows of the ledger, without the header.
func (l *Ledger) Rows() ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(LedgerSheet)
	if err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func (l *Ledger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if err == nil {
		if idx, _ := f.GetSheetIndex(LedgerSheet); idx >= 0 {
			return f, nil
		}
		if err := addLedgerSheet(f); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	f = excelize.NewFile()
	if err := addLedgerSheet(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func addLedgerSheet(f *excelize.File) error {
	idx, err := f.NewSheet(LedgerSheet)
	if err != nil {
		return fmt.Errorf("create ledger sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	header := make([]any, len(LedgerHeader))
	for i, h := range LedgerHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(LedgerSheet, "A1", &header); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	return f.SetColWidth(LedgerSheet, "A", "A", 38)
}

// save writes to a sibling file and renames it over the ledger so a crash
// never leaves a truncated workbook.
func (l *Ledger) save(f *excelize.File) error {
	tmp := filepath.Join(filepath.Dir(l.path), "."+filepath.Base(l.path)+".tmp.xlsx")
	if err := f.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func ledgerRow(o pipeline.Outcome) []any {
	row := make([]any, len(LedgerHeader))
	for i := range row {
		row[i] = ""
	}

	row[0] = o.RunID
	row[1] = o.Status()
	row[2] = o.Source.Path
	if !o.Source.ModTime.IsZero() {
		row[3] = o.Source.ModTime.Format("2006-01-02 15:04:05")
	}
	if s := o.Schedule; s != nil {
		row[4] = s.Title
		row[5] = s.Date.String()
		row[6] = s.Time.Hour()
		row[7] = s.Time.Minute()
		row[8] = s.Place
		row[9] = s.RawDate
		row[10] = s.RawTime
		row[11] = strconv.FormatBool(s.Fallback)
	}
	if f := o.Failure; f != nil {
		row[12] = f.Stage.String()
		row[13] = f.Reason
	}
	row[14] = o.StartedAt.Format("2006-01-02 15:04:05")
	row[15] = o.Duration().Milliseconds()
	return row
}
