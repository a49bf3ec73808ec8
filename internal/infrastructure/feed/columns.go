package feed

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/catalogsync/backend/internal/domain"
)

// Record fields that can be mapped from a feed column
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldLine         = "line"
	FieldCategoryPath = "category_path"
	FieldInventory    = "inventory"
	FieldStatus       = "status"
	FieldItemType     = "item_type"
	FieldDescription  = "description"
)

var headerSeparatorRegex = regexp.MustCompile(`[\s_\-]+`)

// ColumnMap maps a record field to the header names accepted for it
type ColumnMap map[string][]string

// DefaultColumns returns the header aliases used when none are configured
func DefaultColumns() ColumnMap {
	return ColumnMap{
		FieldID:           {"id", "sku", "style number", "style", "item number"},
		FieldTitle:        {"title", "name", "product name", "item name"},
		FieldPrice:        {"price", "retail price", "retail", "msrp"},
		FieldLine:         {"line", "product line", "collection"},
		FieldCategoryPath: {"category path", "category", "categories"},
		FieldInventory:    {"inventory", "quantity", "qty", "stock", "on hand"},
		FieldStatus:       {"status", "state"},
		FieldItemType:     {"item type", "type", "product type"},
		FieldDescription:  {"description", "body", "details"},
	}
}

// Merge returns a copy of c where fields configured in override replace the defaults
func (c ColumnMap) Merge(override map[string][]string) ColumnMap {
	merged := make(ColumnMap, len(c))
	for field, aliases := range c {
		merged[field] = aliases
	}
	for field, aliases := range override {
		if len(aliases) > 0 {
			merged[strings.ToLower(field)] = aliases
		}
	}
	return merged
}

const byteOrderMark = "\ufeff"

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, byteOrderMark)
	h = strings.ToLower(strings.TrimSpace(h))
	return headerSeparatorRegex.ReplaceAllString(h, " ")
}

// headerLayout resolves header positions once per feed
type headerLayout struct {
	width  int
	fields map[string]int
	extras map[int]string
}

// newHeaderLayout matches the header row against the column aliases. The
// first column matching a field wins; unmatched columns become attributes.
func newHeaderLayout(header []string, columns ColumnMap) (*headerLayout, error) {
	aliasToField := make(map[string]string)
	for field, aliases := range columns {
		for _, alias := range aliases {
			key := normalizeHeader(alias)
			if _, taken := aliasToField[key]; !taken {
				aliasToField[key] = field
			}
		}
	}

	layout := &headerLayout{
		width:  len(header),
		fields: make(map[string]int),
		extras: make(map[int]string),
	}
	for i, raw := range header {
		name := normalizeHeader(raw)
		if name == "" {
			continue
		}
		if field, ok := aliasToField[name]; ok {
			if _, seen := layout.fields[field]; !seen {
				layout.fields[field] = i
				continue
			}
		}
		layout.extras[i] = strings.TrimSpace(strings.TrimPrefix(raw, byteOrderMark))
	}

	_, hasID := layout.fields[FieldID]
	_, hasTitle := layout.fields[FieldTitle]
	if !hasID && !hasTitle {
		return nil, fmt.Errorf("%w: header has neither an identifier nor a title column", domain.ErrFeedUnavailable)
	}
	return layout, nil
}

// record maps one row of cells into a record. Short rows are padded; rows
// wider than the header are malformed.
func (l *headerLayout) record(row int, cells []string) (domain.IncomingRecord, error) {
	if len(cells) > l.width {
		return domain.IncomingRecord{}, fmt.Errorf("%w: row %d has %d cells, header has %d",
			domain.ErrMalformedRow, row, len(cells), l.width)
	}
	cell := func(field string) string {
		i, ok := l.fields[field]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	record := domain.IncomingRecord{
		Row:          row,
		ID:           cell(FieldID),
		Title:        cell(FieldTitle),
		Price:        cell(FieldPrice),
		Line:         cell(FieldLine),
		CategoryPath: cell(FieldCategoryPath),
		Inventory:    cell(FieldInventory),
		Status:       cell(FieldStatus),
		ItemType:     cell(FieldItemType),
		Description:  cell(FieldDescription),
	}
	for i, name := range l.extras {
		if i >= len(cells) {
			continue
		}
		if v := strings.TrimSpace(cells[i]); v != "" {
			if record.Attributes == nil {
				record.Attributes = make(map[string]string)
			}
			record.Attributes[name] = v
		}
	}
	return record, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Format is the feed file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Options tune how a feed file is read. Zero values select the defaults.
type Options struct {
	Sheet     string
	Delimiter string
	Columns   ColumnMap
}

// Open returns the feed source for path, inferring the format from the
// extension when format is empty.
func Open(path string, format Format, opts Options) (domain.FeedSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: feed path is empty", domain.ErrInvalidConfig)
	}
	columns := opts.Columns
	if columns == nil {
		columns = DefaultColumns()
	}
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".xlsx", ".xlsm":
			format = FormatXLSX
		default:
			format = FormatCSV
		}
	}

	switch format {
	case FormatCSV:
		src := NewCSVSource(path, columns)
		if opts.Delimiter != "" {
			comma, err := parseDelimiter(opts.Delimiter)
			if err != nil {
				return nil, err
			}
			src.WithDelimiter(comma)
		}
		return src, nil
	case FormatXLSX:
		return NewXLSXSource(path, opts.Sheet, columns), nil
	default:
		return nil, fmt.Errorf("%w: unknown feed format %q", domain.ErrInvalidConfig, format)
	}
}

// parseDelimiter accepts a single character or the name "tab"
func parseDelimiter(d string) (rune, error) {
	if strings.EqualFold(d, "tab") || d == `\t` {
		return '\t', nil
	}
	runes := []rune(d)
	if len(runes) != 1 || runes[0] == '"' || runes[0] == '\r' || runes[0] == '\n' || runes[0] == utf8.RuneError {
		return 0, fmt.Errorf("%w: invalid feed delimiter %q", domain.ErrInvalidConfig, d)
	}
	return runes[0], nil
}
