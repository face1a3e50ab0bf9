package e2e

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the issuer is running$`, tc.issuerIsRunning)

	// Request steps
	ctx.Step(`^I request the issuer status$`, tc.requestStatus)
	ctx.Step(`^I request a credential for "([^"]*)" with country "([^"]*)"$`, tc.requestCredential)
	ctx.Step(`^I request a credential for "([^"]*)" with country "([^"]*)" and tier "([^"]*)"$`, tc.requestCredentialWithTier)
	ctx.Step(`^I POST to "([^"]*)" with body:$`, tc.postWithBody)
	ctx.Step(`^I verify the issued credential$`, tc.verifyIssuedCredential)
	ctx.Step(`^I verify the credential "([^"]*)"$`, tc.verifyCredential)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should start with "([^"]*)"$`, tc.responseFieldShouldStartWith)
	ctx.Step(`^the response should contain a credential JWT$`, tc.responseShouldContainJWT)
	ctx.Step(`^the issuer DID should match the status endpoint$`, tc.issuerDIDShouldMatchStatus)
}

func (tc *TestContext) issuerIsRunning(ctx context.Context) error {
	if err := tc.GET("/health/live"); err != nil {
		return err
	}
	if tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("issuer not live: %d", tc.GetLastResponseStatus())
	}
	return nil
}

func (tc *TestContext) requestStatus(ctx context.Context) error {
	return tc.GET(credentialsPrefix + "/status")
}

func (tc *TestContext) requestCredential(ctx context.Context, customerDID, country string) error {
	return tc.issue(customerDID, map[string]any{"countryOfResidence": country})
}

func (tc *TestContext) requestCredentialWithTier(ctx context.Context, customerDID, country, tier string) error {
	return tc.issue(customerDID, map[string]any{"countryOfResidence": country, "tier": tier})
}

func (tc *TestContext) issue(customerDID string, data map[string]any) error {
	if err := tc.POST(credentialsPrefix+"/issue-credential", map[string]any{
		"customerDid":    customerDID,
		"credentialData": data,
	}); err != nil {
		return err
	}
	if tc.GetLastResponseStatus() == 200 {
		if v, err := tc.GetResponseField("credentialJwt"); err == nil {
			tc.CredentialJWT, _ = v.(string)
		}
		if v, err := tc.GetResponseField("issuerDid"); err == nil {
			tc.IssuerDID, _ = v.(string)
		}
	}
	return nil
}

func (tc *TestContext) postWithBody(ctx context.Context, path string, body *godog.DocString) error {
	return tc.POSTRaw(path, body.Content)
}

func (tc *TestContext) verifyIssuedCredential(ctx context.Context) error {
	if tc.CredentialJWT == "" {
		return fmt.Errorf("no credential issued in this scenario")
	}
	return tc.verifyCredential(ctx, tc.CredentialJWT)
}

func (tc *TestContext) verifyCredential(ctx context.Context, token string) error {
	return tc.POST(credentialsPrefix+"/verify", map[string]string{"credentialJwt": token})
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expected int) error {
	if actual := tc.GetLastResponseStatus(); actual != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, actual, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expected string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if actual := fmt.Sprint(value); actual != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, actual)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldStartWith(ctx context.Context, field, prefix string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if actual := fmt.Sprint(value); !strings.HasPrefix(actual, prefix) {
		return fmt.Errorf("expected %s to start with %q, got %q", field, prefix, actual)
	}
	return nil
}

func (tc *TestContext) responseShouldContainJWT(ctx context.Context) error {
	if strings.Count(tc.CredentialJWT, ".") != 2 {
		return fmt.Errorf("expected a compact JWT, got %q", tc.CredentialJWT)
	}
	return nil
}

func (tc *TestContext) issuerDIDShouldMatchStatus(ctx context.Context) error {
	issued := tc.IssuerDID
	if err := tc.requestStatus(ctx); err != nil {
		return err
	}
	return tc.responseFieldShouldEqual(ctx, "issuerDid", issued)
}
