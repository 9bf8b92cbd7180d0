// Package e2e runs the Gherkin features in features/ against a running
// officehub instance.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"officehub/e2e/steps/office"
)

// TestContext holds per-scenario HTTP state.
type TestContext struct {
	baseURL string
	tenant  string
	token   string
	client  *http.Client

	lastStatus int
	lastBody   []byte
}

func NewTestContext(baseURL, tenant, token string) *TestContext {
	return &TestContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		tenant:  tenant,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	office.RegisterSteps(ctx, tc)
}

func (tc *TestContext) Do(method, path string, body any) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.baseURL+"/office/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Identifier", tc.tenant)
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) Status() int {
	return tc.lastStatus
}

func (tc *TestContext) Field(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.lastBody)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}
