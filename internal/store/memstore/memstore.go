// Package memstore is an in-process store.Store used for development and tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	orgs       map[string]store.Organization
	admins     map[string]store.Admin
	namespaces map[string]struct{}
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orgs:       make(map[string]store.Organization),
		admins:     make(map[string]store.Admin),
		namespaces: make(map[string]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error  { return ctx.Err() }
func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) InsertOrganization(ctx context.Context, org *store.Organization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orgs {
		if o.Name == org.Name || o.Namespace == org.Namespace {
			return store.ErrDuplicate
		}
	}
	now := s.now()
	org.ID = uuid.NewString()
	org.CreatedAt = now
	org.UpdatedAt = now
	s.orgs[org.ID] = *org
	return nil
}

func (s *Store) findOrg(ctx context.Context, match func(store.Organization) bool) (*store.Organization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orgs {
		if match(o) {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) FindOrganizationByID(ctx context.Context, id string) (*store.Organization, error) {
	return s.findOrg(ctx, func(o store.Organization) bool { return o.ID == id })
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (*store.Organization, error) {
	return s.findOrg(ctx, func(o store.Organization) bool { return o.Name == name })
}

func (s *Store) FindOrganizationByNamespace(ctx context.Context, namespace string) (*store.Organization, error) {
	return s.findOrg(ctx, func(o store.Organization) bool { return o.Namespace == namespace })
}

func (s *Store) FindOrganizationByAdminID(ctx context.Context, adminID string) (*store.Organization, error) {
	return s.findOrg(ctx, func(o store.Organization) bool { return o.AdminID == adminID })
}

func (s *Store) UpdateOrganization(ctx context.Context, id, name, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, o := range s.orgs {
		if o.ID != id && (o.Name == name || o.Namespace == namespace) {
			return store.ErrDuplicate
		}
	}
	org.Name = name
	org.Namespace = namespace
	org.UpdatedAt = s.now()
	s.orgs[id] = org
	return nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.orgs, id)
	return nil
}

func (s *Store) InsertAdmin(ctx context.Context, admin *store.Admin) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	admin.ID = uuid.NewString()
	admin.CreatedAt = s.now()
	s.admins[admin.ID] = *admin
	return nil
}

func (s *Store) FindAdminByID(ctx context.Context, id string) (*store.Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) FindAdminsByEmail(ctx context.Context, email string) ([]store.Admin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Admin
	for _, a := range s.admins {
		if a.Email == email {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateAdminEmail(ctx context.Context, id, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.admins[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Email = email
	s.admins[id] = a
	return nil
}

func (s *Store) DeleteAdmin(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.admins, id)
	return nil
}

func (s *Store) CreateNamespace(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[name]; ok {
		return store.ErrNamespaceExists
	}
	s.namespaces[name] = struct{}{}
	return nil
}

func (s *Store) DropNamespace(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[name]; !ok {
		return store.ErrNamespaceNotFound
	}
	delete(s.namespaces, name)
	return nil
}

func (s *Store) RenameNamespace(ctx context.Context, from, to string, dropTarget bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[from]; !ok {
		return store.ErrNamespaceNotFound
	}
	if from == to {
		return nil
	}
	if _, ok := s.namespaces[to]; ok && !dropTarget {
		return store.ErrNamespaceExists
	}
	delete(s.namespaces, from)
	s.namespaces[to] = struct{}{}
	return nil
}

func (s *Store) OrphanNamespaces(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make(map[string]struct{}, len(s.orgs))
	for _, o := range s.orgs {
		owned[o.Namespace] = struct{}{}
	}
	var out []string
	for ns := range s.namespaces {
		if !strings.HasPrefix(ns, prefix) {
			continue
		}
		if _, ok := owned[ns]; !ok {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out, nil
}

// HasNamespace reports whether name exists.
func (s *Store) HasNamespace(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[name]
	return ok
}

// Namespaces returns all namespaces, sorted.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of organizations and admins held.
func (s *Store) Counts() (orgs, admins int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orgs), len(s.admins)
}
