package organization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/naming"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/telemetry"
)

var tracer = otel.Tracer("github.com/WailSalutem-Health-Care/tenant-service/organization")

// Manager keeps an organization record, its admin and its storage namespace
// consistent across create, rename and delete.
//
// The three records cannot be written atomically. A failed step undoes the
// steps already taken by this call (best effort), and namespaces are only
// dropped when no live organization references them. A failed undo leaves an
// orphan namespace for the Sweeper.
type Manager struct {
	store     store.Store
	hasher    PasswordHasher
	logger    *zap.Logger
	publisher messaging.PublisherInterface
	cache     ViewCache
	metrics   MetricsRecorder

	// cacheMu orders cache writes against invalidations. cacheGen counts
	// invalidations so a lookup that read the store before one never writes
	// its value back.
	cacheMu  sync.Mutex
	cacheGen uint64
}

type ManagerOption func(*Manager)

// WithPublisher publishes lifecycle events through p.
func WithPublisher(p messaging.PublisherInterface) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithCache makes LookupByID read through c.
func WithCache(c ViewCache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

func WithMetrics(r MetricsRecorder) ManagerOption {
	return func(m *Manager) { m.metrics = r }
}

func NewManager(st store.Store, hasher PasswordHasher, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  st,
		hasher: hasher,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// unavailable logs a raw store failure and replaces it with ErrStoreUnavailable.
func (m *Manager) unavailable(op string, err error) error {
	m.logger.Error("Store operation failed", zap.String("operation", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
}

func (m *Manager) record(ctx context.Context, op string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = telemetry.OutcomeFailure
	}
	m.metrics.RecordOrganizationOperation(ctx, op, outcome)
}

func (m *Manager) publish(ctx context.Context, event messaging.Event) {
	if err := messaging.PublishEvent(ctx, m.publisher, event); err != nil {
		m.logger.Warn("Failed to publish event", zap.String("routing_key", event.RoutingKey()), zap.Error(err))
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "organization.Manager."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// compensation is one undo step of a failed mutation.
type compensation struct {
	action string
	undo   func(ctx context.Context) error
}

// compensate runs steps in reverse order, detached from the caller's
// cancellation, and returns their combined failures.
func (m *Manager) compensate(ctx context.Context, op string, steps []compensation) error {
	ctx = context.WithoutCancel(ctx)
	var errs error
	for i := len(steps) - 1; i >= 0; i-- {
		err := steps[i].undo(ctx)
		if m.metrics != nil {
			m.metrics.RecordCompensation(ctx, op, steps[i].action, err == nil)
		}
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		m.logger.Error("Compensation incomplete", zap.String("operation", op), zap.Error(errs))
	}
	return errs
}

// dropIfUnowned drops ns unless a live organization references it.
func (m *Manager) dropIfUnowned(ctx context.Context, ns string) error {
	owner, err := m.store.FindOrganizationByNamespace(ctx, ns)
	if err != nil {
		return err
	}
	if owner != nil {
		return nil
	}
	return store.Tolerate(m.store.DropNamespace(ctx, ns), store.ErrNamespaceNotFound)
}

// view joins org with its admin's email.
func (m *Manager) view(ctx context.Context, op string, org *store.Organization) (*View, error) {
	admin, err := m.store.FindAdminByID(ctx, org.AdminID)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	v := &View{ID: org.ID, Name: org.Name, Namespace: org.Namespace}
	if admin != nil {
		v.AdminEmail = admin.Email
	} else {
		m.logger.Warn("Organization has no admin record",
			zap.String("organization_id", org.ID),
			zap.String("admin_id", org.AdminID),
		)
	}
	return v, nil
}

// Create provisions the namespace, the admin and the organization record.
func (m *Manager) Create(ctx context.Context, name, adminEmail, password string) (v *View, err error) {
	const op = "create"
	ns := naming.Derive(name)
	ctx, span := startSpan(ctx, "Create",
		attribute.String("organization.name", name),
		attribute.String("organization.namespace", ns),
	)
	defer func() { endSpan(span, err); m.record(ctx, op, err) }()

	var byName, byNamespace *store.Organization
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byName, err = m.store.FindOrganizationByName(gctx, name)
		return err
	})
	g.Go(func() (err error) {
		byNamespace, err = m.store.FindOrganizationByNamespace(gctx, ns)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.unavailable(op, err)
	}
	if byName != nil {
		return nil, ErrAlreadyExists
	}
	if byNamespace != nil {
		m.logger.Info("Namespace already owned by another organization",
			zap.String("namespace", ns),
			zap.String("owner", byNamespace.Name),
		)
		return nil, ErrAlreadyExists
	}

	digest, err := m.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var undo []compensation

	err = m.store.CreateNamespace(ctx, ns)
	switch {
	case err == nil:
		undo = append(undo, compensation{"drop_namespace", func(ctx context.Context) error {
			return m.dropIfUnowned(ctx, ns)
		}})
	case errors.Is(err, store.ErrNamespaceExists):
		m.logger.Debug("Reusing existing namespace", zap.String("namespace", ns))
	default:
		return nil, m.unavailable(op, err)
	}

	admin := &store.Admin{Email: adminEmail, PasswordHash: digest}
	if err := m.store.InsertAdmin(ctx, admin); err != nil {
		m.compensate(ctx, op, undo)
		return nil, m.unavailable(op, err)
	}
	undo = append(undo, compensation{"delete_admin", func(ctx context.Context) error {
		return store.Tolerate(m.store.DeleteAdmin(ctx, admin.ID), store.ErrNotFound)
	}})

	org := &store.Organization{Name: name, Namespace: ns, AdminID: admin.ID}
	if err := m.store.InsertOrganization(ctx, org); err != nil {
		m.compensate(ctx, op, undo)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyExists
		}
		return nil, m.unavailable(op, err)
	}

	m.logger.Info("Organization created",
		zap.String("organization_id", org.ID),
		zap.String("namespace", ns),
	)
	m.publish(ctx, messaging.OrganizationCreatedEvent{
		BaseEvent: messaging.NewBaseEvent(messaging.EventOrganizationCreated),
		Data: messaging.OrganizationCreatedData{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			Namespace:        ns,
			AdminEmail:       adminEmail,
			CreatedAt:        org.CreatedAt,
		},
	})

	return &View{ID: org.ID, Name: org.Name, Namespace: ns, AdminEmail: adminEmail}, nil
}

// LookupByName returns nil, nil when no organization has name.
func (m *Manager) LookupByName(ctx context.Context, name string) (*View, error) {
	const op = "lookup_by_name"
	org, err := m.store.FindOrganizationByName(ctx, name)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	if org == nil {
		return nil, nil
	}
	return m.view(ctx, op, org)
}

// LookupByAdminEmail returns the first organization administered by an admin
// registered with email, or nil, nil.
func (m *Manager) LookupByAdminEmail(ctx context.Context, email string) (*View, error) {
	const op = "lookup_by_admin_email"
	admins, err := m.store.FindAdminsByEmail(ctx, email)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	for _, admin := range admins {
		org, err := m.store.FindOrganizationByAdminID(ctx, admin.ID)
		if err != nil {
			return nil, m.unavailable(op, err)
		}
		if org != nil {
			return &View{ID: org.ID, Name: org.Name, Namespace: org.Namespace, AdminEmail: admin.Email}, nil
		}
	}
	return nil, nil
}

// LookupByID returns nil, nil when id is unknown. It reads through the view
// cache, so the result may lag a change made by another replica by up to the
// cache TTL. Use LookupByIDFresh before deciding on a mutation.
func (m *Manager) LookupByID(ctx context.Context, id string) (*View, error) {
	if m.cache == nil {
		return m.LookupByIDFresh(ctx, id)
	}
	if v, ok := m.cache.Get(ctx, id); ok {
		return v, nil
	}

	m.cacheMu.Lock()
	gen := m.cacheGen
	m.cacheMu.Unlock()

	v, err := m.LookupByIDFresh(ctx, id)
	if err != nil || v == nil {
		return v, err
	}

	m.cacheMu.Lock()
	if m.cacheGen == gen {
		m.cache.Set(ctx, v)
	}
	m.cacheMu.Unlock()
	return v, nil
}

// LookupByIDFresh reads the organization from the store, bypassing the cache.
// It returns nil, nil when id is unknown.
func (m *Manager) LookupByIDFresh(ctx context.Context, id string) (*View, error) {
	const op = "lookup_by_id"
	org, err := m.store.FindOrganizationByID(ctx, id)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	if org == nil {
		return nil, nil
	}
	return m.view(ctx, op, org)
}

// invalidate drops id from the cache after its records changed.
func (m *Manager) invalidate(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cacheGen++
	m.cache.Invalidate(ctx, id)
}

// Authenticate returns nil, nil when no admin with email has password, or
// when the matching admin no longer belongs to an organization.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (s *Session, err error) {
	const op = "authenticate"
	ctx, span := startSpan(ctx, "Authenticate")
	defer func() { endSpan(span, err) }()

	admins, err := m.store.FindAdminsByEmail(ctx, email)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	for _, admin := range admins {
		if !m.hasher.Verify(password, admin.PasswordHash) {
			continue
		}
		org, err := m.store.FindOrganizationByAdminID(ctx, admin.ID)
		if err != nil {
			return nil, m.unavailable(op, err)
		}
		if org == nil {
			m.logger.Warn("Admin without organization", zap.String("admin_id", admin.ID))
			continue
		}
		span.SetAttributes(attribute.String("organization.id", org.ID))
		return &Session{
			AdminID:    admin.ID,
			AdminEmail: admin.Email,
			Organization: &View{
				ID:         org.ID,
				Name:       org.Name,
				Namespace:  org.Namespace,
				AdminEmail: admin.Email,
			},
		}, nil
	}
	return nil, nil
}

// Delete removes the namespace, the admin and the organization record, in
// that order, skipping parts that are already gone. It reports false when no
// organization has name. A failure part way leaves the remaining records in
// place; repeating Delete finishes the job.
func (m *Manager) Delete(ctx context.Context, name string) (deleted bool, err error) {
	const op = "delete"
	ctx, span := startSpan(ctx, "Delete", attribute.String("organization.name", name))
	defer func() { endSpan(span, err); m.record(ctx, op, err) }()

	org, err := m.store.FindOrganizationByName(ctx, name)
	if err != nil {
		return false, m.unavailable(op, err)
	}
	if org == nil {
		return false, nil
	}

	if err := store.Tolerate(m.store.DropNamespace(ctx, org.Namespace), store.ErrNamespaceNotFound); err != nil {
		return false, m.unavailable(op, err)
	}
	if err := store.Tolerate(m.store.DeleteAdmin(ctx, org.AdminID), store.ErrNotFound); err != nil {
		return false, m.unavailable(op, err)
	}
	if err := store.Tolerate(m.store.DeleteOrganization(ctx, org.ID), store.ErrNotFound); err != nil {
		return false, m.unavailable(op, err)
	}

	m.invalidate(ctx, org.ID)
	m.logger.Info("Organization deleted",
		zap.String("organization_id", org.ID),
		zap.String("namespace", org.Namespace),
	)
	m.publish(ctx, messaging.OrganizationDeletedEvent{
		BaseEvent: messaging.NewBaseEvent(messaging.EventOrganizationDeleted),
		Data: messaging.OrganizationDeletedData{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			Namespace:        org.Namespace,
			DeletedAt:        time.Now().UTC(),
		},
	})
	return true, nil
}

// Rename moves an organization to newName and its namespace to the derived
// name. When the namespace cannot be moved, an empty namespace is created
// under the new name and the old one is left orphaned.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) (v *View, err error) {
	const op = "rename"
	newNS := naming.Derive(newName)
	ctx, span := startSpan(ctx, "Rename",
		attribute.String("organization.name", oldName),
		attribute.String("organization.new_name", newName),
	)
	defer func() { endSpan(span, err); m.record(ctx, op, err) }()

	var org, byName, byNamespace *store.Organization
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		org, err = m.store.FindOrganizationByName(gctx, oldName)
		return err
	})
	g.Go(func() (err error) {
		byName, err = m.store.FindOrganizationByName(gctx, newName)
		return err
	})
	g.Go(func() (err error) {
		byNamespace, err = m.store.FindOrganizationByNamespace(gctx, newNS)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.unavailable(op, err)
	}
	if org == nil {
		return nil, ErrNotFound
	}
	if oldName == newName {
		return m.view(ctx, op, org)
	}
	if (byName != nil && byName.ID != org.ID) || (byNamespace != nil && byNamespace.ID != org.ID) {
		return nil, ErrAlreadyExists
	}

	oldNS := org.Namespace
	var undo []compensation
	orphaned := false

	if newNS != oldNS {
		err := m.store.RenameNamespace(ctx, oldNS, newNS, true)
		if err == nil {
			undo = append(undo, compensation{"rename_namespace_back", func(ctx context.Context) error {
				return m.store.RenameNamespace(ctx, newNS, oldNS, false)
			}})
		} else {
			m.logger.Warn("Namespace rename failed, creating a fresh namespace",
				zap.String("from", oldNS),
				zap.String("to", newNS),
				zap.Error(err),
			)
			cerr := m.store.CreateNamespace(ctx, newNS)
			switch {
			case cerr == nil:
				undo = append(undo, compensation{"drop_namespace", func(ctx context.Context) error {
					return m.dropIfUnowned(ctx, newNS)
				}})
			case errors.Is(cerr, store.ErrNamespaceExists):
			default:
				return nil, m.unavailable(op, cerr)
			}
			orphaned = true
		}
	}

	if err := m.store.UpdateOrganization(ctx, org.ID, newName, newNS); err != nil {
		m.compensate(ctx, op, undo)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrAlreadyExists
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, m.unavailable(op, err)
	}

	m.invalidate(ctx, org.ID)
	m.logger.Info("Organization renamed",
		zap.String("organization_id", org.ID),
		zap.String("from", oldNS),
		zap.String("to", newNS),
		zap.Bool("namespace_orphaned", orphaned),
	)
	now := time.Now().UTC()
	m.publish(ctx, messaging.OrganizationRenamedEvent{
		BaseEvent: messaging.NewBaseEvent(messaging.EventOrganizationRenamed),
		Data: messaging.OrganizationRenamedData{
			OrganizationID: org.ID,
			OldName:        oldName,
			NewName:        newName,
			OldNamespace:   oldNS,
			NewNamespace:   newNS,
			RenamedAt:      now,
		},
	})
	if orphaned {
		m.publish(ctx, messaging.NamespaceOrphanedEvent{
			BaseEvent: messaging.NewBaseEvent(messaging.EventNamespaceOrphaned),
			Data: messaging.NamespaceOrphanedData{
				Namespace:      oldNS,
				OrganizationID: org.ID,
				Reason:         "rename_fallback",
				DetectedAt:     now,
			},
		})
	}

	org.Name, org.Namespace = newName, newNS
	return m.view(ctx, op, org)
}

// ChangeAdminEmail updates the email of the admin of organization orgID.
func (m *Manager) ChangeAdminEmail(ctx context.Context, orgID, email string) (v *View, err error) {
	const op = "change_admin_email"
	ctx, span := startSpan(ctx, "ChangeAdminEmail", attribute.String("organization.id", orgID))
	defer func() { endSpan(span, err); m.record(ctx, op, err) }()

	org, err := m.store.FindOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, m.unavailable(op, err)
	}
	if org == nil {
		return nil, ErrNotFound
	}

	if err := m.store.UpdateAdminEmail(ctx, org.AdminID, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Organization has no admin record", zap.String("organization_id", org.ID))
			return nil, ErrNotFound
		}
		return nil, m.unavailable(op, err)
	}

	m.invalidate(ctx, org.ID)
	m.publish(ctx, messaging.AdminEmailChangedEvent{
		BaseEvent: messaging.NewBaseEvent(messaging.EventOrganizationAdminEmailChanged),
		Data: messaging.AdminEmailChangedData{
			OrganizationID: org.ID,
			AdminID:        org.AdminID,
			NewEmail:       email,
			ChangedAt:      time.Now().UTC(),
		},
	})

	return &View{ID: org.ID, Name: org.Name, Namespace: org.Namespace, AdminEmail: email}, nil
}
