package domain

// Action is the operation chosen for a record after reconciliation
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Field tags tracked by the diff calculator
type Field string

const (
	FieldTitle     Field = "title"
	FieldPrice     Field = "price"
	FieldInventory Field = "inventory"
	FieldStatus    Field = "status"
)

// TrackedFields lists every tracked field in comparison order.
var TrackedFields = []Field{FieldTitle, FieldPrice, FieldInventory, FieldStatus}

// ReconciliationDecision says what to do with one incoming record.
type ReconciliationDecision struct {
	Action        Action        `json:"action"`
	ChangedFields []Field       `json:"changedFields,omitempty"`
	Remote        *RemoteRecord `json:"remote,omitempty"`
}

// Changed reports whether field is among the changed fields.
func (d ReconciliationDecision) Changed(field Field) bool {
	for _, f := range d.ChangedFields {
		if f == field {
			return true
		}
	}
	return false
}

// Operation is a create or update scheduled for execution.
type Operation struct {
	Record   IncomingRecord
	Decision ReconciliationDecision
}

// Identifier returns the record identifier used in outcomes.
func (o Operation) Identifier() string {
	if o.Record.ID != "" {
		return o.Record.ID
	}
	return o.Record.Title
}
