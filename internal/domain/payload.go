package domain

import "github.com/shopspring/decimal"

// ProductPayload is the body sent to the remote catalog on create and update.
type ProductPayload struct {
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html,omitempty"`
	ProductType string           `json:"product_type,omitempty"`
	Status      string           `json:"status"`
	Tags        string           `json:"tags,omitempty"`
	Variants    []VariantPayload `json:"variants"`
}

// VariantPayload is the variant part of a ProductPayload.
type VariantPayload struct {
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	InventoryQuantity int             `json:"inventory_quantity"`
}
