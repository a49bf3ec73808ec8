package feed

import (
	"context"
	"fmt"
	"iter"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/xuri/excelize/v2"
)

// XLSXSource reads one worksheet of an Excel workbook. The first non-blank row
// is the header; a sheet without one yields no records.
type XLSXSource struct {
	path    string
	sheet   string
	columns ColumnMap
}

// NewXLSXSource creates an XLSX feed. An empty sheet selects the first worksheet.
func NewXLSXSource(path, sheet string, columns ColumnMap) *XLSXSource {
	return &XLSXSource{path: path, sheet: sheet, columns: columns}
}

// Records streams the worksheet with excelize's row iterator so large
// workbooks are not loaded into memory at once.
func (s *XLSXSource) Records(ctx context.Context) iter.Seq2[domain.IncomingRecord, error] {
	return func(yield func(domain.IncomingRecord, error) bool) {
		f, err := excelize.OpenFile(s.path)
		if err != nil {
			yield(domain.IncomingRecord{}, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err))
			return
		}
		defer f.Close()

		sheet := s.sheet
		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				yield(domain.IncomingRecord{}, fmt.Errorf("%w: workbook has no sheets", domain.ErrFeedUnavailable))
				return
			}
			sheet = sheets[0]
		}

		rows, err := f.Rows(sheet)
		if err != nil {
			yield(domain.IncomingRecord{}, fmt.Errorf("%w: sheet %q: %v", domain.ErrFeedUnavailable, sheet, err))
			return
		}
		defer rows.Close()

		var layout *headerLayout
		row := 0
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(domain.IncomingRecord{}, err)
				return
			}

			cells, err := rows.Columns()
			if layout == nil {
				if err != nil {
					yield(domain.IncomingRecord{}, fmt.Errorf("%w: read header: %v", domain.ErrFeedUnavailable, err))
					return
				}
				if blank(cells) {
					continue
				}
				if layout, err = newHeaderLayout(cells, s.columns); err != nil {
					yield(domain.IncomingRecord{}, err)
					return
				}
				continue
			}

			if err == nil && blank(cells) {
				continue
			}
			row++
			if err != nil {
				if !yield(domain.IncomingRecord{}, fmt.Errorf("%w: row %d: %v", domain.ErrMalformedRow, row, err)) {
					return
				}
				continue
			}
			if !yield(layout.record(row, cells)) {
				return
			}
		}

		if err := rows.Error(); err != nil {
			yield(domain.IncomingRecord{}, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err))
		}
	}
}
