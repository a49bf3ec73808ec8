package usecase

import (
	"github.com/catalogsync/backend/internal/domain"
)

// ReconciliationIndex provides O(1) lookups of remote records by variant SKU
// and by display name. It is built once per run and never mutated afterwards,
// so concurrent readers need no locking.
type ReconciliationIndex struct {
	bySKU   map[string]*domain.RemoteRecord
	byTitle map[string]*domain.RemoteRecord
	size    int
}

// BuildReconciliationIndex indexes every variant SKU and the title of each remote
// record. When two records share a key, the first one wins.
func BuildReconciliationIndex(remote []domain.RemoteRecord) *ReconciliationIndex {
	idx := &ReconciliationIndex{
		bySKU:   make(map[string]*domain.RemoteRecord, len(remote)),
		byTitle: make(map[string]*domain.RemoteRecord, len(remote)),
		size:    len(remote),
	}

	for i := range remote {
		rec := &remote[i]
		for _, v := range rec.Variants {
			key := normalizeKey(v.SKU)
			if key == "" {
				continue
			}
			if _, exists := idx.bySKU[key]; !exists {
				idx.bySKU[key] = rec
			}
		}
		if key := normalizeKey(rec.Title); key != "" {
			if _, exists := idx.byTitle[key]; !exists {
				idx.byTitle[key] = rec
			}
		}
	}

	return idx
}

// Lookup finds the remote counterpart of an incoming record. The identifier
// lookup is authoritative; the display name is only consulted when it misses.
func (idx *ReconciliationIndex) Lookup(record domain.IncomingRecord) *domain.RemoteRecord {
	if key := normalizeKey(record.ID); key != "" {
		if rec, ok := idx.bySKU[key]; ok {
			return rec
		}
	}
	if key := normalizeKey(record.Title); key != "" {
		if rec, ok := idx.byTitle[key]; ok {
			return rec
		}
	}
	return nil
}

// Size returns the number of remote records indexed.
func (idx *ReconciliationIndex) Size() int { return idx.size }

// Keys returns the number of distinct identifier and display-name keys.
func (idx *ReconciliationIndex) Keys() (identifiers, titles int) {
	return len(idx.bySKU), len(idx.byTitle)
}
