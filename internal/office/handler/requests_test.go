package handler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"officehub/internal/office/models"
	dErrors "officehub/pkg/domain-errors"
)

func TestOfficeRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     OfficeRequest
		wantMsg string
	}{
		{"missing identifier", OfficeRequest{Name: "HQ"}, "identifier is required"},
		{"missing name", OfficeRequest{Identifier: "hq", Name: "   "}, "name is required"},
		{"identifier too long", OfficeRequest{Identifier: "abcdefghijklmnopqrstuvwxyz0123456789", Name: "HQ"}, "identifier must have at most 32 characters"},
		{"bad address", OfficeRequest{Identifier: "hq", Name: "HQ", Address: &AddressRequest{Street: "s", City: "c", CountryCode: "A", Country: "x"}}, "countryCode must have exactly 2 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Equal(t, tt.wantMsg, dErrors.MessageOf(err))
		})
	}

	t.Run("trims and accepts", func(t *testing.T) {
		req := OfficeRequest{Identifier: " hq ", Name: " Head Office "}
		require.NoError(t, req.Validate())
		office := req.ToModel()
		assert.Equal(t, "hq", office.Identifier)
		assert.Equal(t, "Head Office", office.Name)
		assert.Nil(t, office.Address)
	})
}

func TestReferenceRequestValidate(t *testing.T) {
	req := ReferenceRequest{Type: "loans", State: "active"}
	require.NoError(t, req.Validate())
	ref, err := req.ToModel()
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceStateActive, ref.State)

	bad := ReferenceRequest{Type: "loans", State: "PENDING"}
	err = bad.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "state must be one of ACTIVE INACTIVE", dErrors.MessageOf(err))

	_, err = bad.ToModel()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestUpdateOfficeRequestIgnoresReadOnlyFields(t *testing.T) {
	body := `{"identifier":"hq","parentIdentifier":null,"name":" Renamed ","description":"d",` +
		`"address":null,"externalReferences":true,"createdBy":"alice","createdOn":"2026-03-01T09:00:00Z",` +
		`"lastModifiedOn":"2026-03-01T09:00:00Z"}`
	var req UpdateOfficeRequest
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	require.NoError(t, dec.Decode(&req))
	require.NoError(t, req.Validate())

	office := req.ToModel()
	assert.Equal(t, "Renamed", office.Name)
	assert.Empty(t, office.ParentIdentifier)
	assert.Nil(t, office.Address)
	assert.Empty(t, office.CreatedBy)
}

func TestEmployeeRequestValidate(t *testing.T) {
	req := EmployeeRequest{Identifier: "jdoe", GivenName: "Jane"}
	err := req.Validate()
	assert.Equal(t, "surname is required", dErrors.MessageOf(err))
}
