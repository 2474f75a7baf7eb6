// Package model defines the rows, batches, outcomes and results that flow
// through a geobatch run.
package model

import "strings"

var junkValues = map[string]bool{
	"xxx":  true,
	"0000": true,
	"null": true,
	"none": true,
	"n/a":  true,
	"-":    true,
}

// CleanValue trims v and blanks placeholder values such as "xxx" or "null".
func CleanValue(v string) string {
	v = strings.TrimSpace(v)
	if junkValues[strings.ToLower(v)] {
		return ""
	}
	return v
}

// Clean applies CleanValue to every field.
func (f AddressFields) Clean() AddressFields {
	return AddressFields{
		Address: CleanValue(f.Address),
		City:    CleanValue(f.City),
		State:   CleanValue(f.State),
		Phone:   CleanValue(f.Phone),
		Email:   CleanValue(f.Email),
	}
}

// AddressFields is the minimal subset of a row sent to a normalizer.
type AddressFields struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// IsZero reports whether every field is blank.
func (f AddressFields) IsZero() bool {
	return strings.TrimSpace(f.Address) == "" &&
		strings.TrimSpace(f.City) == "" &&
		strings.TrimSpace(f.State) == "" &&
		strings.TrimSpace(f.Phone) == "" &&
		strings.TrimSpace(f.Email) == ""
}

// Query joins the address, city and state into a single geocoder query.
func (f AddressFields) Query() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{f.Address, f.City, f.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// RawRow is one parsed input record. Index is 0-based and stable for the
// whole run. Values holds every column keyed by its original header.
type RawRow struct {
	Index  int               `json:"row_index"`
	Values map[string]string `json:"values"`
	Fields AddressFields     `json:"fields"`
}

// NewRawRow copies values so later mutation of the caller's map is not
// visible through the row.
func NewRawRow(index int, values map[string]string, fields AddressFields) RawRow {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return RawRow{Index: index, Values: cp, Fields: fields}
}

// NormalizedRow is a normalizer's output for one row.
type NormalizedRow struct {
	RowIndex   int           `json:"row_index"`
	Cleaned    AddressFields `json:"cleaned"`
	Original   AddressFields `json:"original"`
	Street     string        `json:"street,omitempty"`
	Country    string        `json:"country,omitempty"`
	Backfilled bool          `json:"backfilled,omitempty"`
	// Error carries the batch error for rows whose batch failed and were
	// not backfilled.
	Error string `json:"error,omitempty"`
}
