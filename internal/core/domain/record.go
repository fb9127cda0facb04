package domain

import "strings"

// Record represents one vehicle waiting in the pending queue.
type Record struct {
	ID              string          `db:"unique_id"        json:"id"`
	Plate           string          `db:"number_plate"     json:"plate"`
	Mileage         int             `db:"mileage"          json:"mileage"`
	SalvageCategory SalvageCategory `db:"salvage_category" json:"salvage_category,omitempty"`
}

// DefaultMileage is submitted when a record carries no mileage.
const DefaultMileage = 100000

// FormMileage returns the mileage to submit to the valuation form.
// Values below 1000 are assumed to be written in thousands.
func (r Record) FormMileage() int {
	switch {
	case r.Mileage <= 0:
		return DefaultMileage
	case r.Mileage < 1000:
		return r.Mileage * 1000
	default:
		return r.Mileage
	}
}

// NormalizedPlate strips whitespace and upper-cases the plate.
func (r Record) NormalizedPlate() string {
	return strings.ToUpper(strings.Join(strings.Fields(r.Plate), ""))
}
