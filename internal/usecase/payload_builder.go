package usecase

import (
	"fmt"
	"strings"

	"github.com/catalogsync/backend/internal/domain"
)

// CatalogPayloadBuilder maps feed records into remote product payloads, using
// the taxonomy resolver for the product type.
type CatalogPayloadBuilder struct {
	resolver *TaxonomyResolver
}

// NewCatalogPayloadBuilder creates a payload builder
func NewCatalogPayloadBuilder(resolver *TaxonomyResolver) *CatalogPayloadBuilder {
	return &CatalogPayloadBuilder{resolver: resolver}
}

// Build returns the payload for a record. It is deterministic for a given
// record and vocabulary.
func (b *CatalogPayloadBuilder) Build(record domain.IncomingRecord) (*domain.ProductPayload, error) {
	title := recordTitle(record)
	if title == "" {
		return nil, fmt.Errorf("record at row %d has neither title nor identifier", record.Row)
	}

	price, _ := parsePrice(record.Price)

	return &domain.ProductPayload{
		Title:       title,
		BodyHTML:    strings.TrimSpace(record.Description),
		ProductType: b.resolver.Resolve(record.CategoryPath),
		Status:      normalizeStatus(record.Status),
		Tags:        buildTags(record),
		Variants: []domain.VariantPayload{{
			SKU:               strings.TrimSpace(record.ID),
			Price:             price,
			InventoryQuantity: parseInventory(record.Inventory),
		}},
	}, nil
}

// recordTitle is the title a record is stored under: its canonical title,
// or its identifier when the title is blank.
func recordTitle(record domain.IncomingRecord) string {
	if title := canonicalTitle(record.Title); title != "" {
		return title
	}
	return canonicalTitle(record.ID)
}

// buildTags joins the line label and item type into a comma separated tag list.
func buildTags(record domain.IncomingRecord) string {
	var tags []string
	for _, t := range []string{record.Line, record.ItemType} {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return strings.Join(tags, ", ")
}
