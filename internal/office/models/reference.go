package models

import dErrors "officehub/pkg/domain-errors"

// ReferenceState is the lifecycle state of an external reference.
type ReferenceState string

const (
	ReferenceStateActive   ReferenceState = "ACTIVE"
	ReferenceStateInactive ReferenceState = "INACTIVE"
)

func (s ReferenceState) IsValid() bool {
	return s == ReferenceStateActive || s == ReferenceStateInactive
}

// ParseReferenceState parses the wire form of a reference state.
func ParseReferenceState(s string) (ReferenceState, error) {
	state := ReferenceState(s)
	if !state.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "reference state must be ACTIVE or INACTIVE")
	}
	return state, nil
}

// ExternalReference is a typed marker another subsystem records against an
// office. Only ACTIVE references block deletion.
type ExternalReference struct {
	Type  string         `json:"type"`
	State ReferenceState `json:"state"`
}
