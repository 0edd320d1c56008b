// Package store defines the persistence contract for organizations, their
// administrators and the per-organization storage namespaces.
//
// Lookups return nil, nil when the record is absent. Mutations of a missing
// record return ErrNotFound. Namespace primitives report their benign
// outcomes as ErrNamespaceExists and ErrNamespaceNotFound so that callers can
// choose which ones to tolerate.
package store

import (
	"context"
	"time"
)

// Organization is the metadata record of a tenant.
type Organization struct {
	ID        string
	Name      string
	Namespace string
	AdminID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Admin is the single administrator of an organization.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type OrganizationStore interface {
	// InsertOrganization assigns org.ID. A taken name or namespace yields ErrDuplicate.
	InsertOrganization(ctx context.Context, org *Organization) error
	FindOrganizationByID(ctx context.Context, id string) (*Organization, error)
	FindOrganizationByName(ctx context.Context, name string) (*Organization, error)
	FindOrganizationByNamespace(ctx context.Context, namespace string) (*Organization, error)
	FindOrganizationByAdminID(ctx context.Context, adminID string) (*Organization, error)
	UpdateOrganization(ctx context.Context, id, name, namespace string) error
	DeleteOrganization(ctx context.Context, id string) error
}

type AdminStore interface {
	// InsertAdmin assigns admin.ID.
	InsertAdmin(ctx context.Context, admin *Admin) error
	FindAdminByID(ctx context.Context, id string) (*Admin, error)
	// FindAdminsByEmail returns every admin registered with email, oldest first.
	FindAdminsByEmail(ctx context.Context, email string) ([]Admin, error)
	UpdateAdminEmail(ctx context.Context, id, email string) error
	DeleteAdmin(ctx context.Context, id string) error
}

type NamespaceStore interface {
	CreateNamespace(ctx context.Context, name string) error
	DropNamespace(ctx context.Context, name string) error
	// RenameNamespace moves from to to. With dropTarget an existing to is
	// replaced; without it ErrNamespaceExists is returned.
	RenameNamespace(ctx context.Context, from, to string, dropTarget bool) error
	// OrphanNamespaces lists namespaces carrying prefix that no organization references.
	OrphanNamespaces(ctx context.Context, prefix string) ([]string, error)
}

// Store is the full backing store used by the organization manager.
type Store interface {
	OrganizationStore
	AdminStore
	NamespaceStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
