// Package e2e drives the full HTTP surface against a real store.
package e2e

import (
	"context"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/credential"
	httpserver "github.com/WailSalutem-Health-Care/tenant-service/internal/http"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/testutil"
)

// TestServer represents a complete E2E test environment
type TestServer struct {
	Server        *httptest.Server
	Store         store.Store
	Tokens        *auth.TokenAuthority
	MockPublisher *testutil.MockPublisher
}

// SetupE2ETest wires st behind the real router: HTTP, auth middleware,
// handler, service, manager and store. Events go to an in-memory publisher.
func SetupE2ETest(t *testing.T, st store.Store) *TestServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hasher, err := credential.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to create hasher: %v", err)
	}
	tokens := testutil.NewTestAuthority(t)
	pub := testutil.NewMockPublisher()

	manager := organization.NewManager(st, hasher, logger,
		organization.WithPublisher(pub),
		organization.WithCache(organization.NewMemoryCache(0)),
	)
	service := organization.NewService(manager, tokens, logger)
	router := httpserver.SetupRouter(httpserver.Dependencies{
		Handler: organization.NewHandler(service, logger),
		Tokens:  tokens,
		Health:  st,
		Logger:  logger,
	})

	return &TestServer{
		Server:        httptest.NewServer(router),
		Store:         st,
		Tokens:        tokens,
		MockPublisher: pub,
	}
}

// Cleanup cleans up all test resources
func (ts *TestServer) Cleanup(t *testing.T) {
	t.Helper()
	ts.Server.Close()
	if err := ts.Store.Close(context.Background()); err != nil {
		t.Logf("Warning: failed to close store: %v", err)
	}
}

// NewClient creates a new HTTP test client for this server with the given token
func (ts *TestServer) NewClient(token string) *testutil.HTTPTestClient {
	return testutil.NewHTTPTestClient(ts.Server.URL, token)
}
