package models

import "maps"

// Record is an immutable snapshot of a case-management row taken at
// extraction time. Field values are kept in canonical text form so decimals
// and dates survive every encoding hop unchanged.
type Record struct {
	Category Category          `json:"category"`
	ID       int64             `json:"id"`
	MaatID   int64             `json:"maat_id"`
	Status   string            `json:"status"`
	Values   map[string]string `json:"values,omitempty"`
}

// Value returns the named field. An empty string counts as absent.
func (r Record) Value(name string) (string, bool) {
	v, ok := r.Values[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	cp := r
	cp.Values = maps.Clone(r.Values)
	return cp
}
