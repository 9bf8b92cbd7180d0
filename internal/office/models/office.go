package models

import (
	"regexp"
	"time"

	dErrors "officehub/pkg/domain-errors"
)

const (
	MaxIdentifierLength  = 32
	MaxNameLength        = 256
	MaxDescriptionLength = 2048
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// Office is a node of the tenant's office forest. A branch is an office whose
// ParentIdentifier is set.
//
// Invariants:
//   - Identifier is non-empty, URL-safe and at most 32 characters
//   - Identifier never changes after creation
//   - ParentIdentifier, when set, referenced an existing office at creation time
//   - HasExternalReferences is true iff the office has a branch, an assigned
//     employee, or an ACTIVE external reference
//   - An office with HasExternalReferences cannot be deleted
type Office struct {
	Identifier            string              `json:"identifier"`
	ParentIdentifier      string              `json:"parentIdentifier,omitempty"`
	Name                  string              `json:"name"`
	Description           string              `json:"description,omitempty"`
	Address               *Address            `json:"address,omitempty"`
	ExternalReferences    []ExternalReference `json:"-"`
	HasExternalReferences bool                `json:"externalReferences"`
	CreatedBy             string              `json:"createdBy,omitempty"`
	CreatedOn             time.Time           `json:"createdOn"`
	LastModifiedBy        string              `json:"lastModifiedBy,omitempty"`
	LastModifiedOn        time.Time           `json:"lastModifiedOn"`
}

// NewOffice validates the creation invariants and stamps audit fields.
func NewOffice(identifier, name, description, actor string, now time.Time) (*Office, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := ValidateDetails(name, description); err != nil {
		return nil, err
	}
	return &Office{
		Identifier:     identifier,
		Name:           name,
		Description:    description,
		CreatedBy:      actor,
		CreatedOn:      now,
		LastModifiedBy: actor,
		LastModifiedOn: now,
	}, nil
}

// ValidateIdentifier checks the identifier format shared by offices and employees.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "identifier cannot be empty")
	}
	if len(identifier) > MaxIdentifierLength {
		return dErrors.New(dErrors.CodeInvariantViolation, "identifier must be 32 characters or less")
	}
	if !identifierPattern.MatchString(identifier) {
		return dErrors.New(dErrors.CodeInvariantViolation, "identifier may only contain letters, digits and . _ ~ -")
	}
	return nil
}

// ValidateDetails checks the mutable display fields.
func ValidateDetails(name, description string) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "office name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return dErrors.New(dErrors.CodeInvariantViolation, "office name must be 256 characters or less")
	}
	if len(description) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeInvariantViolation, "office description must be 2048 characters or less")
	}
	return nil
}

// IsBranch reports whether the office hangs below another office.
func (o *Office) IsBranch() bool {
	return o.ParentIdentifier != ""
}

// ApplyDetails overwrites the mutable display fields. Identifier and parent
// are deliberately untouched.
func (o *Office) ApplyDetails(name, description, actor string, now time.Time) {
	o.Name = name
	o.Description = description
	o.LastModifiedBy = actor
	o.LastModifiedOn = now
}

// HasActiveReference reports whether any external reference is ACTIVE.
func (o *Office) HasActiveReference() bool {
	for _, ref := range o.ExternalReferences {
		if ref.State == ReferenceStateActive {
			return true
		}
	}
	return false
}

// RecomputeExternalReferences refreshes the derived deletion-blocking flag
// from authoritative counts.
func (o *Office) RecomputeExternalReferences(branches, employees int) {
	o.HasExternalReferences = branches > 0 || employees > 0 || o.HasActiveReference()
}

// CanDelete returns a ChildrenExist error while anything still references the office.
func (o *Office) CanDelete() error {
	if o.HasExternalReferences {
		return dErrors.New(dErrors.CodeChildrenExist, "office has branches, employees or active external references")
	}
	return nil
}

// UpsertReference adds ref or, when a reference of the same type exists,
// replaces its state. It reports whether an existing reference changed.
func (o *Office) UpsertReference(ref ExternalReference) bool {
	for i := range o.ExternalReferences {
		if o.ExternalReferences[i].Type == ref.Type {
			o.ExternalReferences[i].State = ref.State
			return true
		}
	}
	o.ExternalReferences = append(o.ExternalReferences, ref)
	return false
}

// Clone returns a deep copy so stores never hand out shared state.
func (o *Office) Clone() *Office {
	if o == nil {
		return nil
	}
	c := *o
	if o.Address != nil {
		addr := *o.Address
		c.Address = &addr
	}
	if o.ExternalReferences != nil {
		c.ExternalReferences = append([]ExternalReference(nil), o.ExternalReferences...)
	}
	return &c
}
