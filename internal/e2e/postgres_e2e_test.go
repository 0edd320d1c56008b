//go:build integration

package e2e

import (
	"testing"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/store/postgres"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/testutil"
)

func TestE2E_Lifecycle_Postgres(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	ts := SetupE2ETest(t, postgres.New(conn))
	defer ts.Cleanup(t)

	runLifecycle(t, ts)
}
