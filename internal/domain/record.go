package domain

import "github.com/shopspring/decimal"

// IncomingRecord is one row of the catalog feed. Values are kept as the raw
// strings read from the feed; parsing is tolerant and happens where needed.
type IncomingRecord struct {
	// Row is the 1-based data row number in the feed (header excluded).
	Row          int               `json:"row"`
	ID           string            `json:"id"` // stable identifier (SKU / style number)
	Title        string            `json:"title"`
	Price        string            `json:"price"`
	Line         string            `json:"line"`
	CategoryPath string            `json:"categoryPath"`
	Inventory    string            `json:"inventory"`
	Status       string            `json:"status"`
	ItemType     string            `json:"itemType"`
	Description  string            `json:"description"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Attribute returns an extra attribute value, or "" when absent.
func (r IncomingRecord) Attribute(name string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[name]
}

// RemoteRecord is a product already stored in the remote catalog.
type RemoteRecord struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Status   string          `json:"status"`
	Variants []RemoteVariant `json:"variants"`
}

// RemoteVariant carries the per-variant key, price and stock of a remote record.
type RemoteVariant struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	InventoryQuantity int             `json:"inventoryQuantity"`
}

// PrimaryVariant returns the first variant, or nil when the record has none.
func (r *RemoteRecord) PrimaryVariant() *RemoteVariant {
	if r == nil || len(r.Variants) == 0 {
		return nil
	}
	return &r.Variants[0]
}

// Status values understood by the remote catalog
const (
	StatusActive = "active"
	StatusDraft  = "draft"
)
