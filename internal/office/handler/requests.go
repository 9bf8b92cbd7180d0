package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"officehub/internal/office/models"
	dErrors "officehub/pkg/domain-errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and reports the first failing field.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	first := verrs[0]
	switch first.Tag() {
	case "required":
		return dErrors.New(dErrors.CodeValidation, first.Field()+" is required")
	case "max", "len":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must have %s %s characters", first.Field(), lengthWord(first.Tag()), first.Param()))
	case "oneof":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be one of %s", first.Field(), first.Param()))
	default:
		return dErrors.New(dErrors.CodeValidation, first.Field()+" is invalid")
	}
}

func lengthWord(tag string) string {
	if tag == "max" {
		return "at most"
	}
	return "exactly"
}

// AddressRequest is the body of PUT /offices/{identifier}/address and the
// optional address of an office creation.
type AddressRequest struct {
	Street      string `json:"street" validate:"required,max=256"`
	City        string `json:"city" validate:"required,max=256"`
	Region      string `json:"region,omitempty" validate:"max=256"`
	PostalCode  string `json:"postalCode,omitempty" validate:"max=32"`
	CountryCode string `json:"countryCode" validate:"required,len=2"`
	Country     string `json:"country" validate:"required,max=256"`
}

func (r *AddressRequest) Normalize() {
	r.Street = strings.TrimSpace(r.Street)
	r.City = strings.TrimSpace(r.City)
	r.Region = strings.TrimSpace(r.Region)
	r.PostalCode = strings.TrimSpace(r.PostalCode)
	r.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	r.Country = strings.TrimSpace(r.Country)
}

func (r *AddressRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Normalize()
	return validateStruct(r)
}

func (r *AddressRequest) ToModel() models.Address {
	return models.Address{
		Street:      r.Street,
		City:        r.City,
		Region:      r.Region,
		PostalCode:  r.PostalCode,
		CountryCode: r.CountryCode,
		Country:     r.Country,
	}
}

// OfficeRequest is the body of POST /offices and POST .../branches.
type OfficeRequest struct {
	Identifier       string          `json:"identifier" validate:"required,max=32"`
	ParentIdentifier string          `json:"parentIdentifier,omitempty" validate:"max=32"`
	Name             string          `json:"name" validate:"required,max=256"`
	Description      string          `json:"description,omitempty" validate:"max=2048"`
	Address          *AddressRequest `json:"address,omitempty"`
}

func (r *OfficeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.ParentIdentifier = strings.TrimSpace(r.ParentIdentifier)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if r.Address != nil {
		if err := r.Address.Validate(); err != nil {
			return err
		}
	}
	return validateStruct(r)
}

func (r *OfficeRequest) ToModel() *models.Office {
	office := &models.Office{
		Identifier:       r.Identifier,
		ParentIdentifier: r.ParentIdentifier,
		Name:             r.Name,
		Description:      r.Description,
	}
	if r.Address != nil {
		address := r.Address.ToModel()
		office.Address = &address
	}
	return office
}

// UpdateOfficeRequest is the body of PUT /offices/{identifier}. Identifier is
// optional but must match the path when present. Clients may send back the
// whole office as read; the read-only fields are accepted and ignored.
type UpdateOfficeRequest struct {
	Identifier  string `json:"identifier,omitempty"`
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description,omitempty" validate:"max=2048"`

	ParentIdentifier   json.RawMessage `json:"parentIdentifier,omitempty"`
	Address            json.RawMessage `json:"address,omitempty"`
	ExternalReferences json.RawMessage `json:"externalReferences,omitempty"`
	CreatedBy          json.RawMessage `json:"createdBy,omitempty"`
	CreatedOn          json.RawMessage `json:"createdOn,omitempty"`
	LastModifiedBy     json.RawMessage `json:"lastModifiedBy,omitempty"`
	LastModifiedOn     json.RawMessage `json:"lastModifiedOn,omitempty"`
}

func (r *UpdateOfficeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	return validateStruct(r)
}

func (r *UpdateOfficeRequest) ToModel() *models.Office {
	return &models.Office{Identifier: r.Identifier, Name: r.Name, Description: r.Description}
}

// ReferenceRequest is the body of PUT /offices/{identifier}/references.
type ReferenceRequest struct {
	Type  string `json:"type" validate:"required,max=64"`
	State string `json:"state" validate:"required,oneof=ACTIVE INACTIVE"`
}

func (r *ReferenceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Type = strings.TrimSpace(r.Type)
	r.State = strings.ToUpper(strings.TrimSpace(r.State))
	return validateStruct(r)
}

func (r *ReferenceRequest) ToModel() (models.ExternalReference, error) {
	state, err := models.ParseReferenceState(r.State)
	if err != nil {
		return models.ExternalReference{}, err
	}
	return models.ExternalReference{Type: r.Type, State: state}, nil
}

// EmployeeRequest is the body of POST /employees.
type EmployeeRequest struct {
	Identifier     string `json:"identifier" validate:"required,max=32"`
	GivenName      string `json:"givenName" validate:"required,max=256"`
	MiddleName     string `json:"middleName,omitempty" validate:"max=256"`
	Surname        string `json:"surname" validate:"required,max=256"`
	AssignedOffice string `json:"assignedOffice,omitempty" validate:"max=32"`
}

func (r *EmployeeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.GivenName = strings.TrimSpace(r.GivenName)
	r.MiddleName = strings.TrimSpace(r.MiddleName)
	r.Surname = strings.TrimSpace(r.Surname)
	r.AssignedOffice = strings.TrimSpace(r.AssignedOffice)
	return validateStruct(r)
}

func (r *EmployeeRequest) ToModel() *models.Employee {
	return &models.Employee{
		Identifier:     r.Identifier,
		GivenName:      r.GivenName,
		MiddleName:     r.MiddleName,
		Surname:        r.Surname,
		AssignedOffice: r.AssignedOffice,
	}
}
