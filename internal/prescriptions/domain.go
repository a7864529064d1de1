package prescriptions

import (
	"time"

	"github.com/rxoptima/rxoptima/internal/docstore"
)

// CollectionName is the per-identity collection holding prescriptions.
const CollectionName = "prescriptions"

// Field names written by Fill.
const (
	FieldIsFilled   = "isFilled"
	FieldDateFilled = "dateFilled"
)

// UnknownDrug is recorded as the drug name when a logged line references an
// id missing from inventory.
const UnknownDrug = "Unknown"

// Prescription is a logged order for one patient. Once IsFilled is true it
// never reverts, and DateFilled is set exactly when IsFilled is.
type Prescription struct {
	ID                string     `json:"-"`
	PatientIdentifier string     `json:"patientIdentifier"`
	DoctorName        string     `json:"doctorName"`
	DateIssued        time.Time  `json:"dateIssued"`
	IsFilled          bool       `json:"isFilled"`
	DateFilled        *time.Time `json:"dateFilled,omitempty"`
	Items             []Line     `json:"items"`
}

// SetID implements docstore.Identifiable.
func (p *Prescription) SetID(id string) { p.ID = id }

// Line is one prescribed drug. DrugName is the inventory name when the
// prescription was logged.
type Line struct {
	DrugID   string `json:"drugId"`
	DrugName string `json:"drugName"`
	Dosage   string `json:"dosage,omitempty"`
	Quantity int    `json:"quantity"`
}

// NewCollection returns the scoped prescriptions collection, newest first.
func NewCollection(store docstore.Store, scope docstore.Scope) *docstore.Collection[Prescription] {
	return docstore.NewCollection(store, scope, CollectionName,
		docstore.OrderBy(func(p Prescription) time.Time { return p.DateIssued }))
}

// Pending returns the prescriptions not yet filled.
func Pending(list []Prescription) []Prescription {
	var out []Prescription
	for _, p := range list {
		if !p.IsFilled {
			out = append(out, p)
		}
	}
	return out
}
