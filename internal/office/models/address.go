package models

import dErrors "officehub/pkg/domain-errors"

// Address is the postal address owned by exactly one office.
type Address struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	Region      string `json:"region,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	CountryCode string `json:"countryCode"`
	Country     string `json:"country"`
}

// Validate enforces the required fields and the two-letter country code.
func (a Address) Validate() error {
	switch {
	case a.Street == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "address street cannot be empty")
	case a.City == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "address city cannot be empty")
	case len(a.CountryCode) != 2:
		return dErrors.New(dErrors.CodeInvariantViolation, "address country code must have 2 characters")
	case a.Country == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "address country cannot be empty")
	}
	return nil
}
