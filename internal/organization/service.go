package organization

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/telemetry"
)

// TokenTypeBearer is the token_type returned by AdminLogin.
const TokenTypeBearer = "bearer"

// Service is the authorization boundary in front of the Manager. Every
// mutation is limited to the organization named in the caller's token.
type Service struct {
	manager ManagerInterface
	tokens  TokenIssuer
	logger  *zap.Logger
	metrics LoginMetricsRecorder
}

func NewService(manager ManagerInterface, tokens TokenIssuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{manager: manager, tokens: tokens, logger: logger}
}

// NewServiceWithMetrics also records admin login outcomes.
func NewServiceWithMetrics(manager ManagerInterface, tokens TokenIssuer, logger *zap.Logger, metrics LoginMetricsRecorder) *Service {
	s := NewService(manager, tokens, logger)
	s.metrics = metrics
	return s
}

func (s *Service) CreateOrg(ctx context.Context, req CreateRequest) (*View, error) {
	return s.manager.Create(ctx, req.Name, req.Email, req.Password)
}

func (s *Service) GetOrgByName(ctx context.Context, name string) (*View, error) {
	v, err := s.manager.LookupByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// AdminLogin exchanges admin credentials for an access token bound to the
// admin and their organization.
func (s *Service) AdminLogin(ctx context.Context, req LoginRequest) (resp *TokenResponse, err error) {
	ctx, span := tracer.Start(ctx, "organization.Service.AdminLogin")
	defer func() {
		endSpan(span, err)
		s.recordLogin(ctx, err)
	}()

	session, err := s.manager.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrUnauthenticated
	}

	token, err := s.tokens.Issue(session.AdminID, session.Organization.ID, 0)
	if err != nil {
		s.logger.Error("Failed to issue token", zap.String("admin_id", session.AdminID), zap.Error(err))
		return nil, fmt.Errorf("issue token: %w", err)
	}
	span.SetAttributes(attribute.String("organization.id", session.Organization.ID))
	return &TokenResponse{AccessToken: token, TokenType: TokenTypeBearer}, nil
}

func (s *Service) recordLogin(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = telemetry.OutcomeFailure
	}
	s.metrics.RecordAdminLogin(ctx, outcome)
}

// authorize loads the organization called name and checks that principal
// belongs to it.
func (s *Service) authorize(ctx context.Context, principal *auth.Principal, name string) (*View, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}
	v, err := s.manager.LookupByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	if v.ID != principal.OrgID {
		s.logger.Info("Rejected cross-organization request",
			zap.String("principal_org_id", principal.OrgID),
			zap.String("target_org_id", v.ID),
		)
		return nil, ErrForbidden
	}
	return v, nil
}

func (s *Service) DeleteOrg(ctx context.Context, principal *auth.Principal, name string) (err error) {
	ctx, span := tracer.Start(ctx, "organization.Service.DeleteOrg")
	defer func() { endSpan(span, err) }()

	if _, err := s.authorize(ctx, principal, name); err != nil {
		return err
	}
	deleted, err := s.manager.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// UpdateOrg renames the caller's organization and/or changes its admin email.
// The rename runs first; a failed email change leaves the rename in place.
func (s *Service) UpdateOrg(ctx context.Context, principal *auth.Principal, req UpdateRequest) (v *View, err error) {
	ctx, span := tracer.Start(ctx, "organization.Service.UpdateOrg")
	defer func() { endSpan(span, err) }()

	if principal == nil {
		return nil, ErrUnauthenticated
	}
	if req.Name == nil && req.AdminEmail == nil {
		return nil, ErrNothingToUpdate
	}

	// Decide on the stored state, never a cached view.
	v, err = s.manager.LookupByIDFresh(ctx, principal.OrgID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		// The token outlived its organization.
		return nil, ErrNotFound
	}

	if req.Name != nil && *req.Name != v.Name {
		v, err = s.manager.Rename(ctx, v.Name, *req.Name)
		if err != nil {
			return nil, err
		}
	}
	if req.AdminEmail != nil && *req.AdminEmail != v.AdminEmail {
		v, err = s.manager.ChangeAdminEmail(ctx, v.ID, *req.AdminEmail)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
