package office

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any) error
	Status() int
	Field(field string) (any, error)
}

// RegisterSteps registers office-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &officeSteps{tc: tc}

	ctx.Step(`^an office "([^"]*)" exists$`, steps.officeExists)
	ctx.Step(`^I create the office "([^"]*)"$`, steps.createOffice)
	ctx.Step(`^I add the branch "([^"]*)" to "([^"]*)"$`, steps.addBranch)
	ctx.Step(`^I set an? (ACTIVE|INACTIVE) "([^"]*)" reference on "([^"]*)"$`, steps.setReference)
	ctx.Step(`^I delete the office "([^"]*)"$`, steps.deleteOffice)
	ctx.Step(`^I fetch the office "([^"]*)"$`, steps.fetchOffice)
	ctx.Step(`^I update the office "([^"]*)" with identifier "([^"]*)"$`, steps.updateWithIdentifier)
	ctx.Step(`^I send "([^"]*)" as the references of "([^"]*)"$`, steps.sendRawReferences)
	ctx.Step(`^the "([^"]*)" event for "([^"]*)" is observed$`, steps.eventObserved)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the office should (not )?have external references$`, steps.shouldHaveReferences)
}

type officeSteps struct {
	tc TestContext
}

func (s *officeSteps) officeExists(ctx context.Context, identifier string) error {
	if err := s.createOffice(ctx, identifier); err != nil {
		return err
	}
	if err := s.statusShouldBe(ctx, http.StatusAccepted); err != nil {
		return err
	}
	return s.eventObserved(ctx, "post-office", identifier)
}

func (s *officeSteps) createOffice(_ context.Context, identifier string) error {
	return s.tc.Do(http.MethodPost, "/offices", map[string]string{
		"identifier": identifier,
		"name":       "Office " + identifier,
	})
}

func (s *officeSteps) addBranch(_ context.Context, identifier, parent string) error {
	return s.tc.Do(http.MethodPost, "/offices/"+parent+"/branches", map[string]string{
		"identifier": identifier,
		"name":       "Branch " + identifier,
	})
}

func (s *officeSteps) setReference(_ context.Context, state, refType, identifier string) error {
	return s.tc.Do(http.MethodPut, "/offices/"+identifier+"/references", map[string]string{
		"type":  refType,
		"state": state,
	})
}

func (s *officeSteps) deleteOffice(_ context.Context, identifier string) error {
	return s.tc.Do(http.MethodDelete, "/offices/"+identifier, nil)
}

func (s *officeSteps) fetchOffice(_ context.Context, identifier string) error {
	return s.tc.Do(http.MethodGet, "/offices/"+identifier, nil)
}

func (s *officeSteps) updateWithIdentifier(_ context.Context, path, identifier string) error {
	return s.tc.Do(http.MethodPut, "/offices/"+path, map[string]string{
		"identifier": identifier,
		"name":       "Renamed",
	})
}

func (s *officeSteps) sendRawReferences(_ context.Context, raw, identifier string) error {
	return s.tc.Do(http.MethodPut, "/offices/"+identifier+"/references", raw)
}

func (s *officeSteps) eventObserved(_ context.Context, eventType, identifier string) error {
	if err := s.tc.Do(http.MethodGet, "/events/"+eventType+"/"+identifier, nil); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusOK {
		return fmt.Errorf("%s event for %s was not observed (status %d)", eventType, identifier, s.tc.Status())
	}
	return nil
}

func (s *officeSteps) statusShouldBe(_ context.Context, status int) error {
	if s.tc.Status() != status {
		return fmt.Errorf("expected status %d, got %d", status, s.tc.Status())
	}
	return nil
}

func (s *officeSteps) errorShouldBe(_ context.Context, code string) error {
	v, err := s.tc.Field("error")
	if err != nil {
		return err
	}
	if v != code {
		return fmt.Errorf("expected error %q, got %v", code, v)
	}
	return nil
}

func (s *officeSteps) shouldHaveReferences(_ context.Context, not string) error {
	v, err := s.tc.Field("externalReferences")
	if err != nil {
		return err
	}
	want := not == ""
	if v != want {
		return fmt.Errorf("expected externalReferences %t, got %v", want, v)
	}
	return nil
}
