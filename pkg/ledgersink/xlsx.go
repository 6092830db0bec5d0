package ledgersink

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-benefits/claimflow/internal/model"
)

const ledgerSheetName = "ledger"

var ledgerHeader = []string{"job_id", "state", "timestamp", "payload"}

// XLSXSink persists ledger records to a spreadsheet workbook, one row per
// (job_id, state). The workbook is created on first write.
type XLSXSink struct {
	path string

	mu   sync.Mutex
	file *xlsx.File
}

// NewXLSX creates a sink backed by the workbook at path.
func NewXLSX(path string) *XLSXSink {
	return &XLSXSink{path: path}
}

// AppendOrUpdate writes rec to the workbook. An existing row with the same
// (job_id, state) is overwritten in place; otherwise a row is appended.
func (s *XLSXSink) AppendOrUpdate(ctx context.Context, rec model.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "ledgersink: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sheet, err := s.sheet()
	if err != nil {
		return err
	}

	payload := ""
	if rec.Payload != nil {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return eris.Wrap(err, "ledgersink: marshal payload")
		}
		payload = string(data)
	}
	values := []string{rec.JobID, string(rec.State), rec.Timestamp.UTC().Format(time.RFC3339), payload}

	row := s.findRow(sheet, rec.JobID, string(rec.State))
	if row == nil {
		row = sheet.AddRow()
	}
	setRow(row, values)

	if err := s.file.Save(s.path); err != nil {
		// Force a reload on the next write; the in-memory workbook may
		// be ahead of the file on disk.
		s.file = nil
		return eris.Wrapf(err, "ledgersink: save workbook %s", s.path)
	}
	return nil
}

func (s *XLSXSink) sheet() (*xlsx.Sheet, error) {
	if s.file == nil {
		if _, err := os.Stat(s.path); err == nil {
			f, err := xlsx.OpenFile(s.path)
			if err != nil {
				return nil, eris.Wrapf(err, "ledgersink: open workbook %s", s.path)
			}
			s.file = f
		} else {
			s.file = xlsx.NewFile()
		}
	}

	if sheet, ok := s.file.Sheet[ledgerSheetName]; ok {
		return sheet, nil
	}
	sheet, err := s.file.AddSheet(ledgerSheetName)
	if err != nil {
		return nil, eris.Wrap(err, "ledgersink: add sheet")
	}
	setRow(sheet.AddRow(), ledgerHeader)
	return sheet, nil
}

// findRow scans for the row keyed by (jobID, state). Row 0 is the header.
func (s *XLSXSink) findRow(sheet *xlsx.Sheet, jobID, state string) *xlsx.Row {
	for i, row := range sheet.Rows {
		if i == 0 || len(row.Cells) < 2 {
			continue
		}
		if row.Cells[0].String() == jobID && row.Cells[1].String() == state {
			return row
		}
	}
	return nil
}

func setRow(row *xlsx.Row, values []string) {
	for i, v := range values {
		if i < len(row.Cells) {
			row.Cells[i].SetString(v)
			continue
		}
		row.AddCell().SetString(v)
	}
}
