// Package storetest is a conformance suite shared by every store.Store backend.
package storetest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
)

// Init returns an empty store and a cleanup func.
type Init func(t *testing.T) (store.Store, func())

// Run exercises every store.Store operation against the backend built by init.
func Run(t *testing.T, init Init) {
	tests := []struct {
		name string
		fn   func(t *testing.T, init Init)
	}{
		{name: "OrganizationLifecycle", fn: OrganizationLifecycle},
		{name: "OrganizationDuplicates", fn: OrganizationDuplicates},
		{name: "AdminLifecycle", fn: AdminLifecycle},
		{name: "AdminsShareEmail", fn: AdminsShareEmail},
		{name: "MissingRecords", fn: MissingRecords},
		{name: "NamespacePrimitives", fn: NamespacePrimitives},
		{name: "RenameNamespace", fn: RenameNamespace},
		{name: "LongNamespaces", fn: LongNamespaces},
		{name: "OrphanNamespaces", fn: OrphanNamespaces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, init)
		})
	}
}

func OrganizationLifecycle(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	admin := &store.Admin{Email: "a@x.com", PasswordHash: "digest"}
	require.NoError(t, s.InsertAdmin(ctx, admin))
	require.NotEmpty(t, admin.ID)

	org := &store.Organization{Name: "Acme Corp", Namespace: "org_acme_corp", AdminID: admin.ID}
	require.NoError(t, s.InsertOrganization(ctx, org))
	require.NotEmpty(t, org.ID)

	byID, err := s.FindOrganizationByID(ctx, org.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Acme Corp", byID.Name)
	assert.Equal(t, "org_acme_corp", byID.Namespace)
	assert.Equal(t, admin.ID, byID.AdminID)

	byName, err := s.FindOrganizationByName(ctx, "Acme Corp")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, org.ID, byName.ID)

	byNS, err := s.FindOrganizationByNamespace(ctx, "org_acme_corp")
	require.NoError(t, err)
	require.NotNil(t, byNS)
	assert.Equal(t, org.ID, byNS.ID)

	byAdmin, err := s.FindOrganizationByAdminID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, byAdmin)
	assert.Equal(t, org.ID, byAdmin.ID)

	require.NoError(t, s.UpdateOrganization(ctx, org.ID, "Acme Inc", "org_acme_inc"))
	renamed, err := s.FindOrganizationByID(ctx, org.ID)
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.Equal(t, "Acme Inc", renamed.Name)
	assert.Equal(t, "org_acme_inc", renamed.Namespace)

	old, err := s.FindOrganizationByName(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.Nil(t, old)

	require.NoError(t, s.DeleteOrganization(ctx, org.ID))
	gone, err := s.FindOrganizationByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func OrganizationDuplicates(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	first := &store.Organization{Name: "Acme", Namespace: "org_acme", AdminID: newAdmin(t, s)}
	require.NoError(t, s.InsertOrganization(ctx, first))

	sameName := &store.Organization{Name: "Acme", Namespace: "org_other", AdminID: newAdmin(t, s)}
	assert.ErrorIs(t, s.InsertOrganization(ctx, sameName), store.ErrDuplicate)

	sameNS := &store.Organization{Name: "ACME", Namespace: "org_acme", AdminID: newAdmin(t, s)}
	assert.ErrorIs(t, s.InsertOrganization(ctx, sameNS), store.ErrDuplicate)

	second := &store.Organization{Name: "Globex", Namespace: "org_globex", AdminID: newAdmin(t, s)}
	require.NoError(t, s.InsertOrganization(ctx, second))
	assert.ErrorIs(t, s.UpdateOrganization(ctx, second.ID, "Acme", "org_globex"), store.ErrDuplicate)
}

func AdminLifecycle(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	admin := &store.Admin{Email: "a@x.com", PasswordHash: "digest"}
	require.NoError(t, s.InsertAdmin(ctx, admin))

	got, err := s.FindAdminByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "digest", got.PasswordHash)

	require.NoError(t, s.UpdateAdminEmail(ctx, admin.ID, "b@x.com"))
	byEmail, err := s.FindAdminsByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, admin.ID, byEmail[0].ID)

	stale, err := s.FindAdminsByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, s.DeleteAdmin(ctx, admin.ID))
	gone, err := s.FindAdminByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func AdminsShareEmail(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	first := &store.Admin{Email: "shared@x.com", PasswordHash: "one"}
	second := &store.Admin{Email: "shared@x.com", PasswordHash: "two"}
	require.NoError(t, s.InsertAdmin(ctx, first))
	require.NoError(t, s.InsertAdmin(ctx, second))

	admins, err := s.FindAdminsByEmail(ctx, "shared@x.com")
	require.NoError(t, err)
	require.Len(t, admins, 2)
	ids := []string{admins[0].ID, admins[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func MissingRecords(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	// not a well-formed id for every backend; must still read as missing
	const missing = "000000000000000000000000"

	org, err := s.FindOrganizationByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, org)

	org, err = s.FindOrganizationByID(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, org)

	admin, err := s.FindAdminByID(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, admin)

	admins, err := s.FindAdminsByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, admins)

	assert.ErrorIs(t, s.DeleteOrganization(ctx, missing), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAdmin(ctx, missing), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateOrganization(ctx, missing, "x", "org_x"), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateAdminEmail(ctx, missing, "x@x.com"), store.ErrNotFound)
}

func NamespacePrimitives(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, s.CreateNamespace(ctx, "org_alpha"))
	assert.ErrorIs(t, s.CreateNamespace(ctx, "org_alpha"), store.ErrNamespaceExists)

	require.NoError(t, s.DropNamespace(ctx, "org_alpha"))
	assert.ErrorIs(t, s.DropNamespace(ctx, "org_alpha"), store.ErrNamespaceNotFound)

	require.NoError(t, s.CreateNamespace(ctx, "org_alpha"))
}

func RenameNamespace(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	assert.ErrorIs(t, s.RenameNamespace(ctx, "org_missing", "org_other", true), store.ErrNamespaceNotFound)

	require.NoError(t, s.CreateNamespace(ctx, "org_src"))
	require.NoError(t, s.RenameNamespace(ctx, "org_src", "org_dst", false))
	assert.ErrorIs(t, s.CreateNamespace(ctx, "org_dst"), store.ErrNamespaceExists)
	require.NoError(t, s.CreateNamespace(ctx, "org_src"))

	assert.ErrorIs(t, s.RenameNamespace(ctx, "org_src", "org_dst", false), store.ErrNamespaceExists)
	require.NoError(t, s.RenameNamespace(ctx, "org_src", "org_dst", true))
	assert.ErrorIs(t, s.DropNamespace(ctx, "org_src"), store.ErrNamespaceNotFound)

	require.NoError(t, s.RenameNamespace(ctx, "org_dst", "org_dst", true))
	require.NoError(t, s.DropNamespace(ctx, "org_dst"))
}

// LongNamespaces uses names at the longest length naming.Derive produces.
func LongNamespaces(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	first := "org_" + strings.Repeat("a", 59)
	second := "org_" + strings.Repeat("b", 59)

	require.NoError(t, s.CreateNamespace(ctx, first))
	assert.ErrorIs(t, s.CreateNamespace(ctx, first), store.ErrNamespaceExists)
	require.NoError(t, s.RenameNamespace(ctx, first, second, false))
	assert.ErrorIs(t, s.DropNamespace(ctx, first), store.ErrNamespaceNotFound)

	require.NoError(t, s.InsertOrganization(ctx, &store.Organization{
		Name: "Long", Namespace: second, AdminID: newAdmin(t, s),
	}))
	orphans, err := s.OrphanNamespaces(ctx, "org_")
	require.NoError(t, err)
	assert.NotContains(t, orphans, second)

	require.NoError(t, s.DropNamespace(ctx, second))
}

func OrphanNamespaces(t *testing.T, init Init) {
	s, done := init(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, s.CreateNamespace(ctx, "org_owned"))
	require.NoError(t, s.CreateNamespace(ctx, "org_stray"))
	require.NoError(t, s.CreateNamespace(ctx, "unrelated"))
	require.NoError(t, s.InsertOrganization(ctx, &store.Organization{
		Name: "Owned", Namespace: "org_owned", AdminID: newAdmin(t, s),
	}))

	orphans, err := s.OrphanNamespaces(ctx, "org_")
	require.NoError(t, err)
	assert.Equal(t, []string{"org_stray"}, orphans)
}

func newAdmin(t *testing.T, s store.Store) string {
	t.Helper()
	admin := &store.Admin{Email: "owner@x.com", PasswordHash: "digest"}
	require.NoError(t, s.InsertAdmin(context.Background(), admin))
	return admin.ID
}
