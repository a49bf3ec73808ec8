package catalog

import (
	"encoding/json"
	"strings"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// remoteID accepts identifiers sent as JSON numbers or strings
type remoteID string

func (id *remoteID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = remoteID(n.String())
	return nil
}

// productJSON is the wire form of a remote product
type productJSON struct {
	ID       remoteID      `json:"id,omitempty"`
	Title    string        `json:"title"`
	Status   string        `json:"status"`
	Variants []variantJSON `json:"variants"`
}

type variantJSON struct {
	ID                remoteID        `json:"id,omitempty"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	InventoryQuantity int             `json:"inventory_quantity"`
}

type productListResponse struct {
	Products []productJSON `json:"products"`
}

type productResponse struct {
	Product productJSON `json:"product"`
}

type productRequest struct {
	Product *domain.ProductPayload `json:"product"`
}

// MapToRemoteRecord converts a wire product into the domain record
func MapToRemoteRecord(p productJSON) domain.RemoteRecord {
	record := domain.RemoteRecord{
		ID:     string(p.ID),
		Title:  p.Title,
		Status: strings.ToLower(p.Status),
	}
	if len(p.Variants) > 0 {
		record.Variants = make([]domain.RemoteVariant, 0, len(p.Variants))
	}
	for _, v := range p.Variants {
		record.Variants = append(record.Variants, domain.RemoteVariant{
			ID:                string(v.ID),
			SKU:               v.SKU,
			Price:             v.Price,
			InventoryQuantity: v.InventoryQuantity,
		})
	}
	return record
}

// MapToRemoteRecords converts a page of wire products
func MapToRemoteRecords(products []productJSON) []domain.RemoteRecord {
	records := make([]domain.RemoteRecord, 0, len(products))
	for _, p := range products {
		records = append(records, MapToRemoteRecord(p))
	}
	return records
}

// nextPageURL extracts the rel="next" target from a Link header, or "" when
// there is no further page.
func nextPageURL(link string) string {
	for part := range strings.SplitSeq(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.ReplaceAll(strings.TrimSpace(param), " ", "")
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}
