package organization

import (
	"context"
	"time"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
)

// PasswordHasher hashes and verifies admin passwords.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

// TokenIssuer signs access tokens for authenticated admins.
type TokenIssuer interface {
	Issue(adminID, orgID string, ttl time.Duration) (string, error)
}

// ViewCache caches organization views by id. Implementations swallow their
// own failures; a miss is always safe.
type ViewCache interface {
	Get(ctx context.Context, id string) (*View, bool)
	Set(ctx context.Context, view *View)
	Invalidate(ctx context.Context, id string)
}

// MetricsRecorder interface for recording lifecycle metrics
type MetricsRecorder interface {
	RecordOrganizationOperation(ctx context.Context, operation, outcome string)
	RecordCompensation(ctx context.Context, operation, action string, ok bool)
}

// LoginMetricsRecorder interface for recording login outcomes
type LoginMetricsRecorder interface {
	RecordAdminLogin(ctx context.Context, outcome string)
}

// ManagerInterface defines the tenant lifecycle operations
type ManagerInterface interface {
	Create(ctx context.Context, name, adminEmail, password string) (*View, error)
	LookupByName(ctx context.Context, name string) (*View, error)
	LookupByAdminEmail(ctx context.Context, email string) (*View, error)
	LookupByID(ctx context.Context, id string) (*View, error)
	LookupByIDFresh(ctx context.Context, id string) (*View, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	Delete(ctx context.Context, name string) (bool, error)
	Rename(ctx context.Context, oldName, newName string) (*View, error)
	ChangeAdminEmail(ctx context.Context, orgID, email string) (*View, error)
}

var _ ManagerInterface = (*Manager)(nil)

// ServiceInterface defines the public operation surface
type ServiceInterface interface {
	CreateOrg(ctx context.Context, req CreateRequest) (*View, error)
	GetOrgByName(ctx context.Context, name string) (*View, error)
	AdminLogin(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	DeleteOrg(ctx context.Context, principal *auth.Principal, name string) error
	UpdateOrg(ctx context.Context, principal *auth.Principal, req UpdateRequest) (*View, error)
}

var _ ServiceInterface = (*Service)(nil)
