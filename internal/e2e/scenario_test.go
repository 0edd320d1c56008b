package e2e

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/testutil"
)

type orgEnvelope struct {
	Status string            `json:"status"`
	Data   organization.View `json:"data"`
}

func createOrg(t *testing.T, c *testutil.HTTPTestClient, name, email, password string) organization.View {
	t.Helper()
	resp := c.POST(t, "/org/create", map[string]string{
		"organization_name": name,
		"email":             email,
		"password":          password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 creating %s, got %d. Body: %s", name, resp.StatusCode, testutil.ReadBody(t, resp))
	}
	var env orgEnvelope
	testutil.DecodeJSON(t, resp, &env)
	return env.Data
}

func login(t *testing.T, c *testutil.HTTPTestClient, email, password string) string {
	t.Helper()
	resp := c.POST(t, "/admin/login", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 logging in %s, got %d. Body: %s", email, resp.StatusCode, testutil.ReadBody(t, resp))
	}
	var tok organization.TokenResponse
	testutil.DecodeJSON(t, resp, &tok)
	if tok.TokenType != "bearer" {
		t.Errorf("Expected token type bearer, got %s", tok.TokenType)
	}
	return tok.AccessToken
}

func byName(path, name string) string {
	return path + "?organization_name=" + url.QueryEscape(name)
}

// runLifecycle exercises the whole public surface against ts.
func runLifecycle(t *testing.T, ts *TestServer) {
	anon := ts.NewClient("")

	acme := createOrg(t, anon, "Acme Corp", "admin@acme.io", "s3cret!")
	if acme.Namespace != "org_acme_corp" {
		t.Errorf("Expected namespace org_acme_corp, got %s", acme.Namespace)
	}
	if acme.ID == "" {
		t.Error("Expected organization ID to be set")
	}
	if err := ts.Store.CreateNamespace(t.Context(), "org_acme_corp"); !errors.Is(err, store.ErrNamespaceExists) {
		t.Fatalf("Expected namespace org_acme_corp to exist, got %v", err)
	}

	// Duplicate name
	resp := anon.POST(t, "/org/create", map[string]string{
		"organization_name": "Acme Corp",
		"email":             "other@acme.io",
		"password":          "s3cret!",
	})
	testutil.AssertStatusCode(t, resp, http.StatusConflict)

	// Public lookup
	resp = anon.GET(t, byName("/org/get", "Acme Corp"))
	var got orgEnvelope
	testutil.DecodeJSON(t, resp, &got)
	if got.Data.ID != acme.ID {
		t.Errorf("Expected id %s, got %s", acme.ID, got.Data.ID)
	}
	testutil.AssertStatusCode(t, anon.GET(t, byName("/org/get", "Nobody")), http.StatusNotFound)

	// Login
	acmeToken := login(t, anon, "admin@acme.io", "s3cret!")
	claims, err := ts.Tokens.Validate(acmeToken)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.OrgID != acme.ID {
		t.Errorf("Expected org_id %s in token, got %s", acme.ID, claims.OrgID)
	}
	wrong := anon.POST(t, "/admin/login", map[string]string{"email": "admin@acme.io", "password": "wrong-password"})
	testutil.AssertStatusCode(t, wrong, http.StatusUnauthorized)

	// Cross-tenant delete
	globex := createOrg(t, anon, "Globex", "ops@globex.io", "hunter22")
	globexToken := login(t, anon, "ops@globex.io", "hunter22")
	resp = anon.WithToken(globexToken).DELETE(t, byName("/org/delete", "Acme Corp"))
	testutil.AssertStatusCode(t, resp, http.StatusForbidden)
	resp = anon.DELETE(t, byName("/org/delete", "Acme Corp"))
	testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
	var unauth map[string]string
	testutil.DecodeJSON(t, resp, &unauth)
	if unauth["error"] != "unauthenticated" || unauth["message"] == "" {
		t.Errorf("Expected JSON auth error, got %v", unauth)
	}

	// Update own organization
	acmeClient := anon.WithToken(acmeToken)
	resp = acmeClient.PUT(t, "/org/update", map[string]string{
		"organization_name": "Acme Industries",
		"admin_email":       "root@acme.io",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 updating, got %d. Body: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}
	var updated orgEnvelope
	testutil.DecodeJSON(t, resp, &updated)
	if updated.Data.Namespace != "org_acme_industries" || updated.Data.AdminEmail != "root@acme.io" {
		t.Errorf("Unexpected updated view: %+v", updated.Data)
	}
	if updated.Data.ID != acme.ID {
		t.Errorf("Expected id to survive rename, got %s", updated.Data.ID)
	}
	testutil.AssertStatusCode(t, acmeClient.PUT(t, "/org/update", map[string]string{"organization_name": "Globex"}), http.StatusConflict)

	// The new admin email logs in.
	login(t, anon, "root@acme.io", "s3cret!")

	// Delete
	resp = acmeClient.DELETE(t, byName("/org/delete", "Acme Industries"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 deleting, got %d. Body: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}
	var del organization.DeleteResponse
	testutil.DecodeJSON(t, resp, &del)
	if del.Status != "deleted" || del.Organization != "Acme Industries" {
		t.Errorf("Unexpected delete response: %+v", del)
	}
	testutil.AssertStatusCode(t, anon.GET(t, byName("/org/get", "Acme Industries")), http.StatusNotFound)
	if err := ts.Store.DropNamespace(t.Context(), "org_acme_industries"); !errors.Is(err, store.ErrNamespaceNotFound) {
		t.Errorf("Expected namespace to be dropped, got %v", err)
	}

	// Globex is untouched.
	resp = anon.GET(t, byName("/org/get", "Globex"))
	testutil.DecodeJSON(t, resp, &got)
	if got.Data.ID != globex.ID {
		t.Errorf("Expected Globex to survive, got %+v", got.Data)
	}

	ts.MockPublisher.AssertEventCount(t, messaging.EventOrganizationCreated, 2)
	ts.MockPublisher.AssertEventCount(t, messaging.EventOrganizationDeleted, 1)
}
