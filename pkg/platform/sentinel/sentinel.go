package sentinel

import "errors"

// Sentinel errors for storage facts. Office and event stores return these
// (optionally wrapped) and the office service translates them into
// domain-errors codes.
//
//   - ErrNotFound: no row/node for the identifier within the tenant
//   - ErrAlreadyUsed: identifier already taken within the tenant
//   - ErrInvalidState: row exists but cannot take the requested change
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
)
