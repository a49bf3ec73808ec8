package usecase

import (
	"github.com/catalogsync/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// DiffCalculator decides create / update / skip for an incoming record.
type DiffCalculator struct {
	enableUpdates bool
}

// NewDiffCalculator creates a calculator. With updates disabled, any matched
// record is skipped regardless of differences.
func NewDiffCalculator(enableUpdates bool) *DiffCalculator {
	return &DiffCalculator{enableUpdates: enableUpdates}
}

// Decide compares the tracked fields of record and its matched remote record.
// Missing values compare as their zero value; Decide never fails.
func (c *DiffCalculator) Decide(record domain.IncomingRecord, remote *domain.RemoteRecord) domain.ReconciliationDecision {
	if remote == nil {
		return domain.ReconciliationDecision{
			Action:        domain.ActionCreate,
			ChangedFields: append([]domain.Field(nil), domain.TrackedFields...),
		}
	}

	if !c.enableUpdates {
		return domain.ReconciliationDecision{Action: domain.ActionSkip, Remote: remote}
	}

	changed := changedFields(record, remote)
	if len(changed) == 0 {
		return domain.ReconciliationDecision{Action: domain.ActionSkip, Remote: remote}
	}
	return domain.ReconciliationDecision{
		Action:        domain.ActionUpdate,
		ChangedFields: changed,
		Remote:        remote,
	}
}

func changedFields(record domain.IncomingRecord, remote *domain.RemoteRecord) []domain.Field {
	var changed []domain.Field

	if recordTitle(record) != remote.Title {
		changed = append(changed, domain.FieldTitle)
	}

	incomingPrice, _ := parsePrice(record.Price)
	remotePrice := decimal.Zero
	remoteInventory := 0
	if variant := remote.PrimaryVariant(); variant != nil {
		remotePrice = variant.Price
		remoteInventory = variant.InventoryQuantity
	}

	if !incomingPrice.Equal(remotePrice) {
		changed = append(changed, domain.FieldPrice)
	}

	if parseInventory(record.Inventory) != remoteInventory {
		changed = append(changed, domain.FieldInventory)
	}

	if normalizeStatus(record.Status) != normalizeLabel(remote.Status) {
		changed = append(changed, domain.FieldStatus)
	}

	return changed
}
