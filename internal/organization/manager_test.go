package organization

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/credential"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/naming"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store/memstore"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/testutil"
)

var errBoom = errors.New("connection reset by peer")

// faultyStore wraps the in-memory store and lets a test replace single calls.
type faultyStore struct {
	*memstore.Store

	insertAdmin        func(ctx context.Context, admin *store.Admin) error
	insertOrganization func(ctx context.Context, org *store.Organization) error
	updateOrganization func(ctx context.Context, id, name, namespace string) error
	findByName         func(ctx context.Context, name string) (*store.Organization, error)
	renameNamespace    func(ctx context.Context, from, to string, dropTarget bool) error
	createNamespace    func(ctx context.Context, name string) error
	deleteAdmin        func(ctx context.Context, id string) error
	dropNamespace      func(ctx context.Context, name string) error
	updateAdminEmail   func(ctx context.Context, id, email string) error
	findAdminByID      func(ctx context.Context, id string) (*store.Admin, error)
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memstore.New()}
}

func (f *faultyStore) InsertAdmin(ctx context.Context, admin *store.Admin) error {
	if f.insertAdmin != nil {
		return f.insertAdmin(ctx, admin)
	}
	return f.Store.InsertAdmin(ctx, admin)
}

func (f *faultyStore) InsertOrganization(ctx context.Context, org *store.Organization) error {
	if f.insertOrganization != nil {
		return f.insertOrganization(ctx, org)
	}
	return f.Store.InsertOrganization(ctx, org)
}

func (f *faultyStore) UpdateOrganization(ctx context.Context, id, name, namespace string) error {
	if f.updateOrganization != nil {
		return f.updateOrganization(ctx, id, name, namespace)
	}
	return f.Store.UpdateOrganization(ctx, id, name, namespace)
}

func (f *faultyStore) FindOrganizationByName(ctx context.Context, name string) (*store.Organization, error) {
	if f.findByName != nil {
		return f.findByName(ctx, name)
	}
	return f.Store.FindOrganizationByName(ctx, name)
}

func (f *faultyStore) RenameNamespace(ctx context.Context, from, to string, dropTarget bool) error {
	if f.renameNamespace != nil {
		return f.renameNamespace(ctx, from, to, dropTarget)
	}
	return f.Store.RenameNamespace(ctx, from, to, dropTarget)
}

func (f *faultyStore) CreateNamespace(ctx context.Context, name string) error {
	if f.createNamespace != nil {
		return f.createNamespace(ctx, name)
	}
	return f.Store.CreateNamespace(ctx, name)
}

func (f *faultyStore) DeleteAdmin(ctx context.Context, id string) error {
	if f.deleteAdmin != nil {
		return f.deleteAdmin(ctx, id)
	}
	return f.Store.DeleteAdmin(ctx, id)
}

func (f *faultyStore) DropNamespace(ctx context.Context, name string) error {
	if f.dropNamespace != nil {
		return f.dropNamespace(ctx, name)
	}
	return f.Store.DropNamespace(ctx, name)
}

func (f *faultyStore) UpdateAdminEmail(ctx context.Context, id, email string) error {
	if f.updateAdminEmail != nil {
		return f.updateAdminEmail(ctx, id, email)
	}
	return f.Store.UpdateAdminEmail(ctx, id, email)
}

func (f *faultyStore) FindAdminByID(ctx context.Context, id string) (*store.Admin, error) {
	if f.findAdminByID != nil {
		return f.findAdminByID(ctx, id)
	}
	return f.Store.FindAdminByID(ctx, id)
}

type compensationCall struct {
	operation, action string
	ok                bool
}

type recordingMetrics struct {
	mu            sync.Mutex
	operations    map[string]string
	compensations []compensationCall
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{operations: make(map[string]string)}
}

func (r *recordingMetrics) RecordOrganizationOperation(ctx context.Context, operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[operation] = outcome
}

func (r *recordingMetrics) RecordCompensation(ctx context.Context, operation, action string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations = append(r.compensations, compensationCall{operation, action, ok})
}

func newTestManager(t *testing.T, st store.Store, opts ...ManagerOption) *Manager {
	t.Helper()
	hasher, err := credential.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to create hasher: %v", err)
	}
	return NewManager(st, hasher, zaptest.NewLogger(t), opts...)
}

func mustCreate(t *testing.T, m *Manager, name, email, password string) *View {
	t.Helper()
	v, err := m.Create(context.Background(), name, email, password)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	return v
}

func TestManagerCreate_Success(t *testing.T) {
	st := memstore.New()
	pub := testutil.NewMockPublisher()
	metrics := newRecordingMetrics()
	m := newTestManager(t, st, WithPublisher(pub), WithMetrics(metrics))

	v, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := &View{Name: "Acme Corp", Namespace: "org_acme_corp", AdminEmail: "admin@acme.io"}
	if diff := cmp.Diff(want, v, cmpopts.IgnoreFields(View{}, "ID")); diff != "" {
		t.Errorf("Unexpected view (-want +got):\n%s", diff)
	}
	if v.ID == "" {
		t.Error("Expected organization id to be assigned")
	}
	if !st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace org_acme_corp to exist")
	}

	admins, _ := st.FindAdminsByEmail(context.Background(), "admin@acme.io")
	if len(admins) != 1 {
		t.Fatalf("Expected 1 admin, got %d", len(admins))
	}
	if admins[0].PasswordHash == "s3cret!" {
		t.Error("Expected password to be stored hashed")
	}

	pub.AssertEventCount(t, messaging.EventOrganizationCreated, 1)
	var event messaging.OrganizationCreatedEvent
	pub.LastByKey(messaging.EventOrganizationCreated).Decode(t, &event)
	if event.Data.OrganizationID != v.ID || event.Data.Namespace != "org_acme_corp" {
		t.Errorf("Unexpected event data: %+v", event.Data)
	}
	if metrics.operations["create"] != "success" {
		t.Errorf("Expected create outcome 'success', got '%s'", metrics.operations["create"])
	}
}

func TestManagerCreate_DuplicateName(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	_, err := m.Create(context.Background(), "Acme Corp", "other@acme.io", "another")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got: %v", err)
	}
	if orgs, admins := st.Counts(); orgs != 1 || admins != 1 {
		t.Errorf("Expected 1 org and 1 admin, got %d and %d", orgs, admins)
	}
}

func TestManagerCreate_NamespaceOwnedByAnotherOrganization(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	first := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	_, err := m.Create(context.Background(), "acme-corp", "x@acme.io", "another")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got: %v", err)
	}

	owner, _ := st.FindOrganizationByNamespace(context.Background(), "org_acme_corp")
	if owner == nil || owner.ID != first.ID {
		t.Error("Expected namespace to stay with the first organization")
	}
}

func TestManagerCreate_LongNamesSharingAPrefixDoNotShareANamespace(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	first := strings.Repeat("a", 59) + "x"
	second := strings.Repeat("a", 59) + "y"

	created := mustCreate(t, m, first, "admin@a.io", "s3cret!")
	if len(created.Namespace) != naming.MaxLength {
		t.Errorf("Expected a %d byte namespace, got %q", naming.MaxLength, created.Namespace)
	}

	if _, err := m.Create(context.Background(), second, "admin@b.io", "s3cret!"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got: %v", err)
	}
	if v, _ := m.LookupByName(context.Background(), second); v != nil {
		t.Errorf("Expected no organization %q, got %+v", second, v)
	}
	if diff := cmp.Diff([]string{created.Namespace}, st.Namespaces()); diff != "" {
		t.Errorf("Namespaces mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerCreate_ReusesUnownedNamespace(t *testing.T) {
	st := memstore.New()
	st.CreateNamespace(context.Background(), "org_acme_corp")
	m := newTestManager(t, st)

	v, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v.Namespace != "org_acme_corp" {
		t.Errorf("Expected namespace org_acme_corp, got %s", v.Namespace)
	}
}

func TestManagerCreate_AdminInsertFailureDropsNamespace(t *testing.T) {
	st := newFaultyStore()
	st.insertAdmin = func(ctx context.Context, admin *store.Admin) error { return errBoom }
	metrics := newRecordingMetrics()
	m := newTestManager(t, st, WithMetrics(metrics))

	_, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if strings.Contains(err.Error(), errBoom.Error()) {
		t.Errorf("Expected raw store error to be hidden, got: %v", err)
	}
	if st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace to be dropped")
	}
	if len(metrics.compensations) != 1 || metrics.compensations[0].action != "drop_namespace" || !metrics.compensations[0].ok {
		t.Errorf("Unexpected compensations: %+v", metrics.compensations)
	}
	if metrics.operations["create"] != "failure" {
		t.Errorf("Expected create outcome 'failure', got '%s'", metrics.operations["create"])
	}
}

func TestManagerCreate_OrganizationInsertFailureRollsBack(t *testing.T) {
	st := newFaultyStore()
	st.insertOrganization = func(ctx context.Context, org *store.Organization) error { return errBoom }
	m := newTestManager(t, st)

	_, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if orgs, admins := st.Counts(); orgs != 0 || admins != 0 {
		t.Errorf("Expected no records, got %d orgs and %d admins", orgs, admins)
	}
	if st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace to be dropped")
	}
}

func TestManagerCreate_DuplicateInsertMapsToAlreadyExists(t *testing.T) {
	st := newFaultyStore()
	st.insertOrganization = func(ctx context.Context, org *store.Organization) error { return store.ErrDuplicate }
	m := newTestManager(t, st)

	_, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got: %v", err)
	}
	if _, admins := st.Counts(); admins != 0 {
		t.Errorf("Expected admin to be removed, got %d", admins)
	}
}

func TestManagerCreate_KeepsPreexistingNamespaceOnFailure(t *testing.T) {
	st := newFaultyStore()
	st.Store.CreateNamespace(context.Background(), "org_acme_corp")
	st.insertOrganization = func(ctx context.Context, org *store.Organization) error { return errBoom }
	m := newTestManager(t, st)

	if _, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!"); err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace created by someone else to survive")
	}
}

func TestManagerCreate_CompensationIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newFaultyStore()
	st.insertOrganization = func(ctx context.Context, org *store.Organization) error {
		cancel()
		return context.Canceled
	}
	m := newTestManager(t, st)

	if _, err := m.Create(ctx, "Acme Corp", "admin@acme.io", "s3cret!"); err == nil {
		t.Fatal("Expected error, got nil")
	}
	if st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace to be dropped despite cancellation")
	}
	if _, admins := st.Counts(); admins != 0 {
		t.Errorf("Expected admin to be removed, got %d", admins)
	}
}

func TestManagerCreate_NamespaceFailureLeavesNothing(t *testing.T) {
	st := newFaultyStore()
	st.createNamespace = func(ctx context.Context, name string) error { return errBoom }
	m := newTestManager(t, st)

	_, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if orgs, admins := st.Counts(); orgs != 0 || admins != 0 {
		t.Errorf("Expected no records, got %d orgs and %d admins", orgs, admins)
	}
}

func TestManagerCreate_PublishFailureIsIgnored(t *testing.T) {
	pub := testutil.NewMockPublisher()
	pub.Err = errors.New("broker down")
	m := newTestManager(t, memstore.New(), WithPublisher(pub))

	if _, err := m.Create(context.Background(), "Acme Corp", "admin@acme.io", "s3cret!"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestManagerLookups(t *testing.T) {
	m := newTestManager(t, memstore.New())
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	ctx := context.Background()

	byName, err := m.LookupByName(ctx, "Acme Corp")
	if err != nil {
		t.Fatalf("LookupByName failed: %v", err)
	}
	if diff := cmp.Diff(created, byName); diff != "" {
		t.Errorf("LookupByName mismatch (-want +got):\n%s", diff)
	}

	byEmail, err := m.LookupByAdminEmail(ctx, "admin@acme.io")
	if err != nil {
		t.Fatalf("LookupByAdminEmail failed: %v", err)
	}
	if diff := cmp.Diff(created, byEmail); diff != "" {
		t.Errorf("LookupByAdminEmail mismatch (-want +got):\n%s", diff)
	}

	byID, err := m.LookupByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("LookupByID failed: %v", err)
	}
	if diff := cmp.Diff(created, byID); diff != "" {
		t.Errorf("LookupByID mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerLookups_Absent(t *testing.T) {
	m := newTestManager(t, memstore.New())
	ctx := context.Background()

	if v, err := m.LookupByName(ctx, "Nobody"); v != nil || err != nil {
		t.Errorf("Expected nil, nil from LookupByName, got %v, %v", v, err)
	}
	if v, err := m.LookupByAdminEmail(ctx, "nobody@example.com"); v != nil || err != nil {
		t.Errorf("Expected nil, nil from LookupByAdminEmail, got %v, %v", v, err)
	}
	if v, err := m.LookupByID(ctx, "missing"); v != nil || err != nil {
		t.Errorf("Expected nil, nil from LookupByID, got %v, %v", v, err)
	}
}

func TestManagerLookupByName_StoreFailure(t *testing.T) {
	st := newFaultyStore()
	st.findByName = func(ctx context.Context, name string) (*store.Organization, error) { return nil, errBoom }
	m := newTestManager(t, st)

	_, err := m.LookupByName(context.Background(), "Acme Corp")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
}

func TestManagerLookupByID_ReadsThroughCache(t *testing.T) {
	st := memstore.New()
	cache := NewMemoryCache(0)
	m := newTestManager(t, st, WithCache(cache))
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	if _, err := m.LookupByID(context.Background(), created.ID); err != nil {
		t.Fatalf("LookupByID failed: %v", err)
	}
	cached, ok := cache.Get(context.Background(), created.ID)
	if !ok {
		t.Fatal("Expected view to be cached")
	}
	if cached.Name != "Acme Corp" {
		t.Errorf("Expected cached name 'Acme Corp', got '%s'", cached.Name)
	}

	if _, err := m.Rename(context.Background(), "Acme Corp", "Globex"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, ok := cache.Get(context.Background(), created.ID); ok {
		t.Error("Expected rename to invalidate the cached view")
	}

	v, _ := m.LookupByID(context.Background(), created.ID)
	if v.Name != "Globex" {
		t.Errorf("Expected fresh name 'Globex', got '%s'", v.Name)
	}
}

func TestManagerLookupByID_ReadRacingRenameIsNotCached(t *testing.T) {
	st := newFaultyStore()
	cache := NewMemoryCache(0)
	m := newTestManager(t, st, WithCache(cache))
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	st.findAdminByID = func(ctx context.Context, id string) (*store.Admin, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return st.Store.FindAdminByID(ctx, id)
	}

	done := make(chan *View, 1)
	go func() {
		v, err := m.LookupByID(ctx, created.ID)
		if err != nil {
			t.Errorf("LookupByID failed: %v", err)
		}
		done <- v
	}()

	<-entered
	if _, err := m.Rename(ctx, "Acme Corp", "Beta"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	close(release)
	<-done

	if v, ok := cache.Get(ctx, created.ID); ok && v.Name != "Beta" {
		t.Errorf("Expected the pre-rename view not to be cached, got name '%s'", v.Name)
	}
	v, err := m.LookupByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("LookupByID failed: %v", err)
	}
	if v.Name != "Beta" || v.Namespace != "org_beta" {
		t.Errorf("Expected renamed view, got %+v", v)
	}

	service := NewService(m, nil, zaptest.NewLogger(t))
	updated, err := service.UpdateOrg(ctx, &auth.Principal{OrgID: created.ID}, UpdateRequest{Name: strPtr("Gamma")})
	if err != nil {
		t.Fatalf("UpdateOrg failed: %v", err)
	}
	if updated.Namespace != "org_gamma" {
		t.Errorf("Expected namespace org_gamma, got %s", updated.Namespace)
	}
}

func TestServiceUpdateOrg_SeesChangesFromAnotherReplica(t *testing.T) {
	st := memstore.New()
	replicaA := newTestManager(t, st, WithCache(NewMemoryCache(0)))
	replicaB := newTestManager(t, st, WithCache(NewMemoryCache(0)))
	created := mustCreate(t, replicaA, "Acme Corp", "x@acme.io", "s3cret!")
	ctx := context.Background()

	// Warm replica A's cache, then change the email through replica B.
	if _, err := replicaA.LookupByID(ctx, created.ID); err != nil {
		t.Fatalf("LookupByID failed: %v", err)
	}
	if _, err := replicaB.ChangeAdminEmail(ctx, created.ID, "y@acme.io"); err != nil {
		t.Fatalf("ChangeAdminEmail failed: %v", err)
	}

	service := NewService(replicaA, nil, zaptest.NewLogger(t))
	v, err := service.UpdateOrg(ctx, &auth.Principal{OrgID: created.ID}, UpdateRequest{AdminEmail: strPtr("x@acme.io")})
	if err != nil {
		t.Fatalf("UpdateOrg failed: %v", err)
	}
	if v.AdminEmail != "x@acme.io" {
		t.Errorf("Expected returned email x@acme.io, got %s", v.AdminEmail)
	}

	stored, err := replicaB.LookupByIDFresh(ctx, created.ID)
	if err != nil {
		t.Fatalf("LookupByIDFresh failed: %v", err)
	}
	if stored.AdminEmail != "x@acme.io" {
		t.Errorf("Expected stored email x@acme.io, got %s", stored.AdminEmail)
	}
}

func TestManagerAuthenticate(t *testing.T) {
	m := newTestManager(t, memstore.New())
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	session, err := m.Authenticate(context.Background(), "admin@acme.io", "s3cret!")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if session == nil {
		t.Fatal("Expected session, got nil")
	}
	if session.Organization.ID != created.ID {
		t.Errorf("Expected org id %s, got %s", created.ID, session.Organization.ID)
	}
	if session.AdminID == "" {
		t.Error("Expected admin id to be set")
	}
}

func TestManagerAuthenticate_Rejections(t *testing.T) {
	m := newTestManager(t, memstore.New())
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	if s, err := m.Authenticate(context.Background(), "admin@acme.io", "wrong"); s != nil || err != nil {
		t.Errorf("Expected nil, nil for wrong password, got %v, %v", s, err)
	}
	if s, err := m.Authenticate(context.Background(), "nobody@acme.io", "s3cret!"); s != nil || err != nil {
		t.Errorf("Expected nil, nil for unknown email, got %v, %v", s, err)
	}
}

func TestManagerAuthenticate_SharedEmailPicksMatchingPassword(t *testing.T) {
	m := newTestManager(t, memstore.New())
	mustCreate(t, m, "Alpha", "shared@example.com", "alpha-pass")
	beta := mustCreate(t, m, "Beta", "shared@example.com", "beta-pass")

	session, err := m.Authenticate(context.Background(), "shared@example.com", "beta-pass")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if session == nil || session.Organization.ID != beta.ID {
		t.Fatalf("Expected session for Beta, got %+v", session)
	}
}

func TestManagerAuthenticate_SkipsAdminWithoutOrganization(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.DeleteOrganization(context.Background(), created.ID)

	if s, err := m.Authenticate(context.Background(), "admin@acme.io", "s3cret!"); s != nil || err != nil {
		t.Errorf("Expected nil, nil, got %v, %v", s, err)
	}
}

func TestManagerDelete(t *testing.T) {
	st := memstore.New()
	pub := testutil.NewMockPublisher()
	m := newTestManager(t, st, WithPublisher(pub))
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	deleted, err := m.Delete(context.Background(), "Acme Corp")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !deleted {
		t.Fatal("Expected deleted to be true")
	}
	if orgs, admins := st.Counts(); orgs != 0 || admins != 0 {
		t.Errorf("Expected no records, got %d orgs and %d admins", orgs, admins)
	}
	if st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace to be dropped")
	}
	pub.AssertEventCount(t, messaging.EventOrganizationDeleted, 1)

	deleted, err = m.Delete(context.Background(), "Acme Corp")
	if err != nil || deleted {
		t.Errorf("Expected false, nil on second delete, got %v, %v", deleted, err)
	}
}

func TestManagerDelete_MissingNamespaceIsTolerated(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.DropNamespace(context.Background(), "org_acme_corp")

	deleted, err := m.Delete(context.Background(), "Acme Corp")
	if err != nil || !deleted {
		t.Fatalf("Expected true, nil, got %v, %v", deleted, err)
	}
}

func TestManagerDelete_FailureIsResumable(t *testing.T) {
	st := newFaultyStore()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	st.deleteAdmin = func(ctx context.Context, id string) error { return errBoom }
	_, err := m.Delete(context.Background(), "Acme Corp")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if orgs, _ := st.Counts(); orgs != 1 {
		t.Errorf("Expected organization record to remain, got %d", orgs)
	}

	st.deleteAdmin = nil
	deleted, err := m.Delete(context.Background(), "Acme Corp")
	if err != nil || !deleted {
		t.Fatalf("Expected retry to succeed, got %v, %v", deleted, err)
	}
	if orgs, admins := st.Counts(); orgs != 0 || admins != 0 {
		t.Errorf("Expected no records, got %d orgs and %d admins", orgs, admins)
	}
}

func TestManagerRename(t *testing.T) {
	st := memstore.New()
	pub := testutil.NewMockPublisher()
	m := newTestManager(t, st, WithPublisher(pub))
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	v, err := m.Rename(context.Background(), "Acme Corp", "Globex Inc")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := &View{ID: created.ID, Name: "Globex Inc", Namespace: "org_globex_inc", AdminEmail: "admin@acme.io"}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("Unexpected view (-want +got):\n%s", diff)
	}
	if st.HasNamespace("org_acme_corp") || !st.HasNamespace("org_globex_inc") {
		t.Errorf("Expected namespace to move, got %v", st.Namespaces())
	}
	pub.AssertEventCount(t, messaging.EventOrganizationRenamed, 1)
	pub.AssertEventCount(t, messaging.EventNamespaceOrphaned, 0)

	if old, _ := m.LookupByName(context.Background(), "Acme Corp"); old != nil {
		t.Error("Expected old name to be free")
	}
}

func TestManagerRename_SameName(t *testing.T) {
	m := newTestManager(t, memstore.New())
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	v, err := m.Rename(context.Background(), "Acme Corp", "Acme Corp")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff(created, v); diff != "" {
		t.Errorf("Unexpected view (-want +got):\n%s", diff)
	}
}

func TestManagerRename_SameNamespace(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	v, err := m.Rename(context.Background(), "Acme Corp", "ACME corp")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v.Name != "ACME corp" || v.Namespace != "org_acme_corp" {
		t.Errorf("Unexpected view: %+v", v)
	}
	if !st.HasNamespace("org_acme_corp") {
		t.Error("Expected namespace to be untouched")
	}
}

func TestManagerRename_NotFound(t *testing.T) {
	m := newTestManager(t, memstore.New())

	_, err := m.Rename(context.Background(), "Nobody", "Somebody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got: %v", err)
	}
}

func TestManagerRename_Collision(t *testing.T) {
	m := newTestManager(t, memstore.New())
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	mustCreate(t, m, "Globex", "admin@globex.io", "s3cret!")

	if _, err := m.Rename(context.Background(), "Acme Corp", "Globex"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for taken name, got: %v", err)
	}
	if _, err := m.Rename(context.Background(), "Acme Corp", "GLOBEX"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for taken namespace, got: %v", err)
	}
}

func TestManagerRename_OverwritesOrphanTarget(t *testing.T) {
	st := memstore.New()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.CreateNamespace(context.Background(), "org_globex")

	if _, err := m.Rename(context.Background(), "Acme Corp", "Globex"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff([]string{"org_globex"}, st.Namespaces()); diff != "" {
		t.Errorf("Unexpected namespaces (-want +got):\n%s", diff)
	}
}

func TestManagerRename_FallbackOrphansOldNamespace(t *testing.T) {
	st := newFaultyStore()
	pub := testutil.NewMockPublisher()
	m := newTestManager(t, st, WithPublisher(pub))
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.renameNamespace = func(ctx context.Context, from, to string, dropTarget bool) error { return errBoom }

	v, err := m.Rename(context.Background(), "Acme Corp", "Globex")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v.Namespace != "org_globex" {
		t.Errorf("Expected namespace org_globex, got %s", v.Namespace)
	}

	orphans, _ := st.OrphanNamespaces(context.Background(), "org_")
	if diff := cmp.Diff([]string{"org_acme_corp"}, orphans); diff != "" {
		t.Errorf("Unexpected orphans (-want +got):\n%s", diff)
	}
	var event messaging.NamespaceOrphanedEvent
	pub.LastByKey(messaging.EventNamespaceOrphaned).Decode(t, &event)
	if event.Data.Namespace != "org_acme_corp" || event.Data.Dropped {
		t.Errorf("Unexpected orphan event: %+v", event.Data)
	}
}

func TestManagerRename_FallbackFailureLeavesRecord(t *testing.T) {
	st := newFaultyStore()
	m := newTestManager(t, st)
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.renameNamespace = func(ctx context.Context, from, to string, dropTarget bool) error { return errBoom }
	st.createNamespace = func(ctx context.Context, name string) error { return errBoom }

	_, err := m.Rename(context.Background(), "Acme Corp", "Globex")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if v, _ := m.LookupByName(context.Background(), "Acme Corp"); v == nil {
		t.Error("Expected record to keep its old name")
	}
}

func TestManagerRename_UpdateFailureMovesNamespaceBack(t *testing.T) {
	st := newFaultyStore()
	metrics := newRecordingMetrics()
	m := newTestManager(t, st, WithMetrics(metrics))
	mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.updateOrganization = func(ctx context.Context, id, name, namespace string) error { return errBoom }

	_, err := m.Rename(context.Background(), "Acme Corp", "Globex")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
	if diff := cmp.Diff([]string{"org_acme_corp"}, st.Namespaces()); diff != "" {
		t.Errorf("Unexpected namespaces (-want +got):\n%s", diff)
	}
	if len(metrics.compensations) != 1 || metrics.compensations[0].action != "rename_namespace_back" {
		t.Errorf("Unexpected compensations: %+v", metrics.compensations)
	}
}

func TestManagerChangeAdminEmail(t *testing.T) {
	st := memstore.New()
	pub := testutil.NewMockPublisher()
	m := newTestManager(t, st, WithPublisher(pub))
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")

	v, err := m.ChangeAdminEmail(context.Background(), created.ID, "new@acme.io")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v.AdminEmail != "new@acme.io" {
		t.Errorf("Expected email 'new@acme.io', got '%s'", v.AdminEmail)
	}
	if s, _ := m.Authenticate(context.Background(), "new@acme.io", "s3cret!"); s == nil {
		t.Error("Expected login with the new email to succeed")
	}
	pub.AssertEventCount(t, messaging.EventOrganizationAdminEmailChanged, 1)
}

func TestManagerChangeAdminEmail_NotFound(t *testing.T) {
	m := newTestManager(t, memstore.New())

	_, err := m.ChangeAdminEmail(context.Background(), "missing", "new@acme.io")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got: %v", err)
	}
}

func TestManagerChangeAdminEmail_StoreFailure(t *testing.T) {
	st := newFaultyStore()
	m := newTestManager(t, st)
	created := mustCreate(t, m, "Acme Corp", "admin@acme.io", "s3cret!")
	st.updateAdminEmail = func(ctx context.Context, id, email string) error { return errBoom }

	_, err := m.ChangeAdminEmail(context.Background(), created.ID, "new@acme.io")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got: %v", err)
	}
}
