package models

// Event types emitted by the office service. Each successful mutation emits
// exactly one of these, correlated by the affected identifier.
const (
	EventPostOffice     = "post-office"
	EventPutOffice      = "put-office"
	EventDeleteOffice   = "delete-office"
	EventPutAddress     = "put-address"
	EventDeleteAddress  = "delete-address"
	EventPutReference   = "put-reference"
	EventPostEmployee   = "post-employee"
	EventDeleteEmployee = "delete-employee"
)
