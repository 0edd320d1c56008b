package organization

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/naming"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
)

// DefaultSweepGrace separates the two orphan observations of a sweep.
const DefaultSweepGrace = 30 * time.Second

// SweepStore is the part of the store the Sweeper needs.
type SweepStore interface {
	store.NamespaceStore
	FindOrganizationByNamespace(ctx context.Context, namespace string) (*store.Organization, error)
}

// SweepMetricsRecorder interface for recording swept namespaces
type SweepMetricsRecorder interface {
	RecordNamespacesSwept(ctx context.Context, n int)
}

// Sweeper drops namespaces that no organization references, such as the
// ones left behind by a rename fallback or a failed compensation.
//
// A namespace is dropped only when it is orphaned in two observations taken
// Grace apart, so a create that has made its namespace but not yet its
// record is left alone.
type Sweeper struct {
	store     SweepStore
	logger    *zap.Logger
	publisher messaging.PublisherInterface
	metrics   SweepMetricsRecorder

	Grace  time.Duration
	DryRun bool

	wait func(ctx context.Context, d time.Duration) error
}

// SweepResult lists the namespaces found orphaned in both observations and
// the ones actually dropped.
type SweepResult struct {
	Orphans []string
	Dropped []string
}

func NewSweeper(st SweepStore, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:  st,
		logger: logger,
		Grace:  DefaultSweepGrace,
		wait:   sleepContext,
	}
}

func (s *Sweeper) WithPublisher(p messaging.PublisherInterface) *Sweeper {
	s.publisher = p
	return s
}

func (s *Sweeper) WithMetrics(m SweepMetricsRecorder) *Sweeper {
	s.metrics = m
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sweep observes orphan namespaces twice and drops those present both times.
// Individual drop failures are collected and returned together with the
// partial result.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	first, err := s.store.OrphanNamespaces(ctx, naming.Prefix)
	if err != nil {
		return nil, fmt.Errorf("first orphan scan: %w", err)
	}
	s.logger.Info("Orphan scan", zap.Int("candidates", len(first)), zap.Duration("grace", s.Grace))
	if len(first) == 0 {
		return &SweepResult{}, nil
	}

	if err := s.wait(ctx, s.Grace); err != nil {
		return nil, err
	}

	second, err := s.store.OrphanNamespaces(ctx, naming.Prefix)
	if err != nil {
		return nil, fmt.Errorf("second orphan scan: %w", err)
	}

	seen := make(map[string]bool, len(first))
	for _, ns := range first {
		seen[ns] = true
	}
	result := &SweepResult{}
	for _, ns := range second {
		if seen[ns] {
			result.Orphans = append(result.Orphans, ns)
		}
	}
	sort.Strings(result.Orphans)

	if s.DryRun {
		for _, ns := range result.Orphans {
			s.logger.Info("Would drop orphan namespace", zap.String("namespace", ns))
		}
		return result, nil
	}

	var errs error
	for _, ns := range result.Orphans {
		dropped, err := s.drop(ctx, ns)
		if err != nil {
			s.logger.Error("Failed to drop orphan namespace", zap.String("namespace", ns), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ns, err))
			continue
		}
		if dropped {
			result.Dropped = append(result.Dropped, ns)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordNamespacesSwept(ctx, len(result.Dropped))
	}
	s.logger.Info("Orphan sweep finished",
		zap.Int("orphans", len(result.Orphans)),
		zap.Int("dropped", len(result.Dropped)),
	)
	return result, errs
}

// drop removes ns unless an organization claimed it since the scans.
func (s *Sweeper) drop(ctx context.Context, ns string) (bool, error) {
	owner, err := s.store.FindOrganizationByNamespace(ctx, ns)
	if err != nil {
		return false, err
	}
	if owner != nil {
		s.logger.Info("Namespace claimed during sweep", zap.String("namespace", ns), zap.String("organization_id", owner.ID))
		return false, nil
	}
	if err := store.Tolerate(s.store.DropNamespace(ctx, ns), store.ErrNamespaceNotFound); err != nil {
		return false, err
	}

	s.logger.Info("Dropped orphan namespace", zap.String("namespace", ns))
	event := messaging.NamespaceOrphanedEvent{
		BaseEvent: messaging.NewBaseEvent(messaging.EventNamespaceOrphaned),
		Data: messaging.NamespaceOrphanedData{
			Namespace:  ns,
			Reason:     "sweep",
			Dropped:    true,
			DetectedAt: time.Now().UTC(),
		},
	}
	if err := messaging.PublishEvent(ctx, s.publisher, event); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("routing_key", event.RoutingKey()), zap.Error(err))
	}
	return true, nil
}
