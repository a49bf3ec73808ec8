package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/catalogsync/backend/internal/domain"
)

// CSVSource reads a comma separated feed with a header row
type CSVSource struct {
	path    string
	columns ColumnMap
	comma   rune
}

// NewCSVSource creates a CSV feed over path
func NewCSVSource(path string, columns ColumnMap) *CSVSource {
	return &CSVSource{path: path, columns: columns, comma: ','}
}

// WithDelimiter switches the field delimiter, e.g. to ';' or '\t'
func (s *CSVSource) WithDelimiter(comma rune) *CSVSource {
	s.comma = comma
	return s
}

// Records streams the file row by row. Every call reopens the file.
func (s *CSVSource) Records(ctx context.Context) iter.Seq2[domain.IncomingRecord, error] {
	return func(yield func(domain.IncomingRecord, error) bool) {
		file, err := os.Open(s.path)
		if err != nil {
			yield(domain.IncomingRecord{}, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err))
			return
		}
		defer file.Close()

		reader := csv.NewReader(file)
		reader.Comma = s.comma
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(domain.IncomingRecord{}, fmt.Errorf("%w: read header: %v", domain.ErrFeedUnavailable, err))
			return
		}
		layout, err := newHeaderLayout(header, s.columns)
		if err != nil {
			yield(domain.IncomingRecord{}, err)
			return
		}

		row := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.IncomingRecord{}, err)
				return
			}

			cells, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			row++

			var parseErr *csv.ParseError
			switch {
			case errors.As(err, &parseErr):
				if !yield(domain.IncomingRecord{}, fmt.Errorf("%w: row %d: %v", domain.ErrMalformedRow, row, parseErr)) {
					return
				}
				continue
			case err != nil:
				yield(domain.IncomingRecord{}, fmt.Errorf("%w: row %d: %v", domain.ErrFeedUnavailable, row, err))
				return
			}

			if blank(cells) {
				row--
				continue
			}
			if !yield(layout.record(row, cells)) {
				return
			}
		}
	}
}
