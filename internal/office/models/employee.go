package models

import (
	"time"

	dErrors "officehub/pkg/domain-errors"
)

// Employee is a person assigned to at most one office. An assigned employee
// blocks deletion of that office.
type Employee struct {
	Identifier     string    `json:"identifier"`
	GivenName      string    `json:"givenName"`
	MiddleName     string    `json:"middleName,omitempty"`
	Surname        string    `json:"surname"`
	AssignedOffice string    `json:"assignedOffice,omitempty"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedOn      time.Time `json:"createdOn"`
}

func NewEmployee(identifier, givenName, middleName, surname, assignedOffice, actor string, now time.Time) (*Employee, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if givenName == "" || surname == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "employee given name and surname are required")
	}
	return &Employee{
		Identifier:     identifier,
		GivenName:      givenName,
		MiddleName:     middleName,
		Surname:        surname,
		AssignedOffice: assignedOffice,
		CreatedBy:      actor,
		CreatedOn:      now,
	}, nil
}
