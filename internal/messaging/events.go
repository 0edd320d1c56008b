package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Organization lifecycle routing keys
const (
	EventOrganizationCreated           = "organization.created"
	EventOrganizationRenamed           = "organization.renamed"
	EventOrganizationDeleted           = "organization.deleted"
	EventOrganizationAdminEmailChanged = "organization.admin_email_changed"
	EventNamespaceOrphaned             = "organization.namespace_orphaned"
)

const ServiceName = "tenant-service"

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType   string    `json:"event_type"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	ServiceName string    `json:"service_name"`
}

// RoutingKey is the event type; every event is published under it.
func (e BaseEvent) RoutingKey() string { return e.EventType }

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType:   eventType,
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ServiceName: ServiceName,
	}
}

type OrganizationCreatedEvent struct {
	BaseEvent
	Data OrganizationCreatedData `json:"data"`
}

type OrganizationCreatedData struct {
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Namespace        string    `json:"namespace"`
	AdminEmail       string    `json:"admin_email"`
	CreatedAt        time.Time `json:"created_at"`
}

type OrganizationRenamedEvent struct {
	BaseEvent
	Data OrganizationRenamedData `json:"data"`
}

type OrganizationRenamedData struct {
	OrganizationID string    `json:"organization_id"`
	OldName        string    `json:"old_name"`
	NewName        string    `json:"new_name"`
	OldNamespace   string    `json:"old_namespace"`
	NewNamespace   string    `json:"new_namespace"`
	RenamedAt      time.Time `json:"renamed_at"`
}

type OrganizationDeletedEvent struct {
	BaseEvent
	Data OrganizationDeletedData `json:"data"`
}

type OrganizationDeletedData struct {
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Namespace        string    `json:"namespace"`
	DeletedAt        time.Time `json:"deleted_at"`
}

type AdminEmailChangedEvent struct {
	BaseEvent
	Data AdminEmailChangedData `json:"data"`
}

type AdminEmailChangedData struct {
	OrganizationID string    `json:"organization_id"`
	AdminID        string    `json:"admin_id"`
	NewEmail       string    `json:"new_email"`
	ChangedAt      time.Time `json:"changed_at"`
}

// NamespaceOrphanedEvent reports a namespace left behind by a rename fallback
// or dropped by the sweeper.
type NamespaceOrphanedEvent struct {
	BaseEvent
	Data NamespaceOrphanedData `json:"data"`
}

type NamespaceOrphanedData struct {
	Namespace      string    `json:"namespace"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Reason         string    `json:"reason"`
	Dropped        bool      `json:"dropped"`
	DetectedAt     time.Time `json:"detected_at"`
}
