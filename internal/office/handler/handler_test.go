package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"officehub/internal/events"
	"officehub/internal/office/models"
	"officehub/internal/office/service"
	"officehub/internal/office/store"
	"officehub/internal/platform/middleware"
	"officehub/pkg/testutil"
)

const basePath = "/office/v1"

// OfficeAPISuite drives the REST surface end to end against the in-memory
// store. Every command is confirmed by waiting on its event before the next
// assertion, the way API clients use the service.
type OfficeAPISuite struct {
	suite.Suite
	router   http.Handler
	recorder *events.Recorder
}

func TestOfficeAPISuite(t *testing.T) {
	suite.Run(t, new(OfficeAPISuite))
}

func (s *OfficeAPISuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(events.WithLogger(logger))
	s.recorder = events.NewRecorder(events.WithMaxWait(2 * time.Second)).Attach(bus)
	svc := service.New(store.NewInMemory(), bus, service.WithLogger(logger))

	r := chi.NewRouter()
	r.Use(middleware.RequireTenant(logger))
	New(svc, s.recorder, logger).Register(r)
	s.router = r
}

func (s *OfficeAPISuite) do(method, path string, body any) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewTenantRequest(s.T(), method, basePath+path, "acme", body))
}

// command issues a mutation, expects 202 and waits for its event.
func (s *OfficeAPISuite) command(method, path string, body any, eventType, identifier string) {
	rec := s.do(method, path, body)
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := testutil.UnmarshalResponse[CommandAccepted](s.T(), rec)
	s.Equal(eventType, accepted.Event)
	s.Equal(identifier, accepted.Identifier)
	s.Require().True(s.recorder.Wait(context.Background(), eventType, identifier))
}

func (s *OfficeAPISuite) createOffice(identifier string) {
	s.command(http.MethodPost, "/offices", OfficeRequest{Identifier: identifier, Name: "Office " + identifier},
		models.EventPostOffice, identifier)
}

func (s *OfficeAPISuite) addBranch(parent, identifier string) {
	s.command(http.MethodPost, "/offices/"+parent+"/branches", OfficeRequest{Identifier: identifier, Name: "Branch " + identifier},
		models.EventPostOffice, identifier)
}

func (s *OfficeAPISuite) getOffice(identifier string) *models.Office {
	rec := s.do(http.MethodGet, "/offices/"+identifier, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	return testutil.UnmarshalResponse[models.Office](s.T(), rec)
}

func (s *OfficeAPISuite) assertError(rec *httptest.ResponseRecorder, status int, code string) {
	testutil.AssertStatusAndError(s.T(), rec, status, code)
}

func (s *OfficeAPISuite) TestCreateOffice() {
	s.createOffice("hq")
	office := s.getOffice("hq")
	s.Equal("Office hq", office.Name)
	s.False(office.HasExternalReferences)
}

func (s *OfficeAPISuite) TestCreateOfficeDuplicate() {
	s.createOffice("hq")
	rec := s.do(http.MethodPost, "/offices", OfficeRequest{Identifier: "hq", Name: "Again"})
	s.assertError(rec, http.StatusConflict, "conflict")
	s.Equal("Office hq", s.getOffice("hq").Name)
}

func (s *OfficeAPISuite) TestUpdateOffice() {
	s.createOffice("hq")
	s.command(http.MethodPut, "/offices/hq", UpdateOfficeRequest{Identifier: "hq", Name: "Head Office", Description: "main"},
		models.EventPutOffice, "hq")

	office := s.getOffice("hq")
	s.Equal("Head Office", office.Name)
	s.Equal("main", office.Description)
}

func (s *OfficeAPISuite) TestUpdateOfficeIdentifierMismatch() {
	s.createOffice("hq")
	rec := s.do(http.MethodPut, "/offices/hq", UpdateOfficeRequest{Identifier: "other", Name: "Renamed"})
	s.assertError(rec, http.StatusBadRequest, "bad_request")
	s.Equal("Office hq", s.getOffice("hq").Name)
}

// TestUpdateOfficeWithRepresentation sends back the office as GET returned it.
func (s *OfficeAPISuite) TestUpdateOfficeWithRepresentation() {
	s.createOffice("hq")
	s.addBranch("hq", "north")

	rec := s.do(http.MethodGet, "/offices/north", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	body["name"] = "North Renamed"
	body["address"] = nil
	raw, err := json.Marshal(body)
	s.Require().NoError(err)

	s.command(http.MethodPut, "/offices/north", string(raw), models.EventPutOffice, "north")
	office := s.getOffice("north")
	s.Equal("North Renamed", office.Name)
	s.Equal("hq", office.ParentIdentifier)

	rec = s.do(http.MethodPut, "/offices/north", `{"name":"X","unknown":1}`)
	s.assertError(rec, http.StatusBadRequest, "bad_request")
}

func (s *OfficeAPISuite) TestUpdateOfficeMalformedPayload() {
	s.createOffice("hq")
	rec := s.do(http.MethodPut, "/offices/hq", "hq")
	s.assertError(rec, http.StatusBadRequest, "bad_request")
}

func (s *OfficeAPISuite) TestAddBranch() {
	s.createOffice("hq")
	s.addBranch("hq", "north")

	s.Equal("hq", s.getOffice("north").ParentIdentifier)
	s.True(s.getOffice("hq").HasExternalReferences)

	rec := s.do(http.MethodGet, "/offices/hq/branches", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page models.OfficePage
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&page))
	s.EqualValues(1, page.TotalElements)
	s.Require().Len(page.Offices, 1)
	s.Equal("north", page.Offices[0].Identifier)
}

func (s *OfficeAPISuite) TestAddBranchParentNotFound() {
	rec := s.do(http.MethodPost, "/offices/missing/branches", OfficeRequest{Identifier: "north", Name: "North"})
	s.assertError(rec, http.StatusNotFound, "not_found")
}

func (s *OfficeAPISuite) TestAddBranchDuplicate() {
	s.createOffice("hq")
	s.addBranch("hq", "north")
	rec := s.do(http.MethodPost, "/offices/hq/branches", OfficeRequest{Identifier: "north", Name: "North"})
	s.assertError(rec, http.StatusConflict, "conflict")
}

func (s *OfficeAPISuite) TestAddressLifecycle() {
	s.createOffice("hq")
	address := AddressRequest{Street: "1 Main St", City: "Vienna", CountryCode: "at", Country: "Austria"}
	s.command(http.MethodPut, "/offices/hq/address", address, models.EventPutAddress, "hq")

	rec := s.do(http.MethodGet, "/offices/hq/address", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var found models.Address
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&found))
	s.Equal("Vienna", found.City)
	s.Equal("AT", found.CountryCode)

	s.command(http.MethodDelete, "/offices/hq/address", nil, models.EventDeleteAddress, "hq")
	s.assertError(s.do(http.MethodGet, "/offices/hq/address", nil), http.StatusNotFound, "not_found")
}

func (s *OfficeAPISuite) TestSetAddressValidation() {
	s.createOffice("hq")
	rec := s.do(http.MethodPut, "/offices/hq/address", AddressRequest{Street: "1 Main St", City: "Vienna", CountryCode: "AUT", Country: "Austria"})
	s.assertError(rec, http.StatusBadRequest, "validation_error")
}

func (s *OfficeAPISuite) TestReturnParentOfBranch() {
	s.createOffice("hq")
	s.addBranch("hq", "north")
	s.Equal("hq", s.getOffice("north").ParentIdentifier)
}

func (s *OfficeAPISuite) TestDeleteOffice() {
	s.createOffice("hq")
	s.command(http.MethodDelete, "/offices/hq", nil, models.EventDeleteOffice, "hq")
	s.assertError(s.do(http.MethodGet, "/offices/hq", nil), http.StatusNotFound, "not_found")
}

func (s *OfficeAPISuite) TestDeleteOfficeWithBranches() {
	s.createOffice("hq")
	s.addBranch("hq", "north")
	s.assertError(s.do(http.MethodDelete, "/offices/hq", nil), http.StatusConflict, "children_exist")
}

func (s *OfficeAPISuite) TestDeleteOfficeWithEmployees() {
	s.createOffice("hq")
	s.command(http.MethodPost, "/employees",
		EmployeeRequest{Identifier: "jdoe", GivenName: "Jane", Surname: "Doe", AssignedOffice: "hq"},
		models.EventPostEmployee, "jdoe")
	s.assertError(s.do(http.MethodDelete, "/offices/hq", nil), http.StatusConflict, "children_exist")

	s.command(http.MethodDelete, "/employees/jdoe", nil, models.EventDeleteEmployee, "jdoe")
	s.command(http.MethodDelete, "/offices/hq", nil, models.EventDeleteOffice, "hq")
}

func (s *OfficeAPISuite) TestDeleteOfficeWithActiveExternalReference() {
	s.createOffice("hq")
	s.command(http.MethodPut, "/offices/hq/references", ReferenceRequest{Type: "anytype", State: "ACTIVE"},
		models.EventPutReference, "hq")
	s.assertError(s.do(http.MethodDelete, "/offices/hq", nil), http.StatusConflict, "children_exist")
}

func (s *OfficeAPISuite) TestDeleteOfficeWithInactiveExternalReference() {
	s.createOffice("hq")
	s.command(http.MethodPut, "/offices/hq/references", ReferenceRequest{Type: "anytype", State: "INACTIVE"},
		models.EventPutReference, "hq")
	s.False(s.getOffice("hq").HasExternalReferences)
	s.command(http.MethodDelete, "/offices/hq", nil, models.EventDeleteOffice, "hq")
}

func (s *OfficeAPISuite) TestIndicateOfficeHasExternalReferences() {
	s.createOffice("hq")
	s.command(http.MethodPut, "/offices/hq/references", ReferenceRequest{Type: "anytype", State: "ACTIVE"},
		models.EventPutReference, "hq")
	s.True(s.getOffice("hq").HasExternalReferences)

	rec := s.do(http.MethodPut, "/offices/hq/references", "hq")
	s.assertError(rec, http.StatusBadRequest, "bad_request")
}

func (s *OfficeAPISuite) TestListOfficesPaging() {
	for _, id := range []string{"c", "a", "b"} {
		s.createOffice(id)
	}
	rec := s.do(http.MethodGet, "/offices?page=0&size=2&sortColumn=identifier&sortDirection=DESC", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page models.OfficePage
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&page))
	s.EqualValues(3, page.TotalElements)
	s.Equal(2, page.TotalPages)
	s.Require().Len(page.Offices, 2)
	s.Equal("c", page.Offices[0].Identifier)

	s.assertError(s.do(http.MethodGet, "/offices?sortColumn=color", nil), http.StatusBadRequest, "bad_request")
	s.assertError(s.do(http.MethodGet, "/offices?page=x", nil), http.StatusBadRequest, "bad_request")
}

func (s *OfficeAPISuite) TestEmployeeEndpoints() {
	s.createOffice("hq")
	s.command(http.MethodPost, "/employees",
		EmployeeRequest{Identifier: "jdoe", GivenName: "Jane", Surname: "Doe", AssignedOffice: "hq"},
		models.EventPostEmployee, "jdoe")

	rec := s.do(http.MethodGet, "/employees/jdoe", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var employee models.Employee
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&employee))
	s.Equal("hq", employee.AssignedOffice)

	rec = s.do(http.MethodPost, "/employees", EmployeeRequest{Identifier: "x", GivenName: "X", Surname: "Y", AssignedOffice: "missing"})
	s.assertError(rec, http.StatusNotFound, "not_found")
}

func (s *OfficeAPISuite) TestWaitEventEndpoint() {
	rec := s.do(http.MethodPost, "/offices", OfficeRequest{Identifier: "hq", Name: "Head Office"})
	s.Require().Equal(http.StatusAccepted, rec.Code)
	rec = s.do(http.MethodGet, "/events/"+models.EventPostOffice+"/hq", nil)
	s.Equal(http.StatusOK, rec.Code)
}

// TestWaitAfterSecondUpdate checks that a wait for a repeated event type is
// satisfied by the newest command, not by an earlier one.
func (s *OfficeAPISuite) TestWaitAfterSecondUpdate() {
	s.createOffice("hq")
	s.command(http.MethodPut, "/offices/hq", UpdateOfficeRequest{Name: "First"}, models.EventPutOffice, "hq")
	s.command(http.MethodPut, "/offices/hq", UpdateOfficeRequest{Name: "Second"}, models.EventPutOffice, "hq")
	s.Equal("Second", s.getOffice("hq").Name)
	s.Equal(2, s.recorder.Count(models.EventPutOffice, "hq"))
}

func (s *OfficeAPISuite) TestListBranchesHugePageIndex() {
	s.createOffice("hq")
	s.addBranch("hq", "north")

	rec := s.do(http.MethodGet, "/offices/hq/branches?page=9223372036854775807&size=20", nil)
	s.assertError(rec, http.StatusBadRequest, "bad_request")

	rec = s.do(http.MethodGet, "/offices?page=9223372036854775807", nil)
	s.assertError(rec, http.StatusBadRequest, "bad_request")
}

func (s *OfficeAPISuite) TestMissingTenantHeader() {
	rec := testutil.DoRequest(s.router, testutil.NewTenantRequest(s.T(), http.MethodGet, basePath+"/offices", "", nil))
	s.assertError(rec, http.StatusBadRequest, "bad_request")
}

func TestWaitEventEndpointTimesOut(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := events.NewRecorder(events.WithMaxWait(10 * time.Millisecond))
	svc := service.New(store.NewInMemory(), events.NewBus())

	r := chi.NewRouter()
	r.Use(middleware.RequireTenant(logger))
	New(svc, recorder, logger).Register(r)

	req := httptest.NewRequest(http.MethodGet, basePath+"/events/"+models.EventPostOffice+"/never", nil)
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 when no event arrives, got %d", rec.Code)
	}
}
