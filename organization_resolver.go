package idp

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTenantHeader            = "X-Organization-Id"
	DefaultOrganizationAdminPrefix = "/api/admin/organizations"
)

// System permissions that let a caller select any organization.
const (
	PermissionManageOrganizations = "organizations.manage"
	PermissionReadOrganizations   = "organizations.read"
)

// ResolveRequest carries the request facts the resolver looks at.
type ResolveRequest struct {
	Path   string
	Header string
	Claims AccessClaims
}

// OrganizationResolver decides the organization scope of a request. The
// membership claim in the token is checked first and then confirmed against
// the store, so a revoked membership stops working before the token expires.
type OrganizationResolver struct {
	memberships      MembershipSource
	organizations    OrganizationSource
	header           string
	adminPrefix      string
	adminPermissions []string
	activity         ActivitySink
	tracer           trace.Tracer
	now              func() time.Time
	logger           Logger
	provider         LoggerProvider
}

type ResolverOption func(*OrganizationResolver)

func WithTenantHeader(header string) ResolverOption {
	return func(r *OrganizationResolver) {
		if header = strings.TrimSpace(header); header != "" {
			r.header = header
		}
	}
}

// WithAdminPathPrefix sets the organization admin surface. An empty prefix
// disables the skip.
func WithAdminPathPrefix(prefix string) ResolverOption {
	return func(r *OrganizationResolver) {
		r.adminPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func WithAdminPermissions(permissions ...string) ResolverOption {
	return func(r *OrganizationResolver) {
		r.adminPermissions = append([]string(nil), permissions...)
	}
}

func WithResolverActivitySink(sink ActivitySink) ResolverOption {
	return func(r *OrganizationResolver) {
		r.activity = normalizeActivitySink(sink)
	}
}

func WithResolverTracer(tracer trace.Tracer) ResolverOption {
	return func(r *OrganizationResolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *OrganizationResolver) {
		r.provider, r.logger = ResolveLogger("idp.organization", r.provider, logger)
	}
}

func WithResolverLoggerProvider(provider LoggerProvider) ResolverOption {
	return func(r *OrganizationResolver) {
		r.provider, r.logger = ResolveLogger("idp.organization", provider, r.logger)
	}
}

func NewOrganizationResolver(memberships MembershipSource, organizations OrganizationSource, opts ...ResolverOption) *OrganizationResolver {
	provider, logger := ResolveLogger("idp.organization", nil, nil)
	r := &OrganizationResolver{
		memberships:      memberships,
		organizations:    organizations,
		header:           DefaultTenantHeader,
		adminPrefix:      DefaultOrganizationAdminPrefix,
		adminPermissions: []string{PermissionManageOrganizations, PermissionReadOrganizations},
		activity:         normalizeActivitySink(nil),
		tracer:           otel.Tracer(instrumentationName),
		now:              time.Now,
		logger:           logger,
		provider:         provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewOrganizationResolverFromConfig wires header and admin prefix from cfg.
func NewOrganizationResolverFromConfig(cfg Config, memberships MembershipSource, organizations OrganizationSource, opts ...ResolverOption) *OrganizationResolver {
	base := []ResolverOption{
		WithTenantHeader(cfg.GetTenantHeader()),
	}
	if prefix := cfg.GetOrganizationAdminPrefix(); prefix != "" {
		base = append(base, WithAdminPathPrefix(prefix))
	}
	return NewOrganizationResolver(memberships, organizations, append(base, opts...)...)
}

// Header is the tenant selector header name.
func (r *OrganizationResolver) Header() string {
	return r.header
}

// IsAdminPath reports whether path belongs to the organization admin surface.
func (r *OrganizationResolver) IsAdminPath(path string) bool {
	if r.adminPrefix == "" {
		return false
	}
	path = strings.ToLower(path)
	prefix := strings.ToLower(r.adminPrefix)
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Resolve returns the organization scope for req, or nil when the request is
// not scoped. Rejections are 400 for a malformed header, 401 for a missing
// identity, 403 for non members and 404 for unknown organizations.
func (r *OrganizationResolver) Resolve(ctx context.Context, req ResolveRequest) (oc *OrganizationContext, err error) {
	if r.IsAdminPath(req.Path) {
		return nil, nil
	}

	raw := strings.TrimSpace(req.Header)
	if req.Claims == nil || raw == "" {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "idp.organization.resolve", trace.WithAttributes(
		attribute.String("idp.organization.header", raw),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	orgID, perr := uuid.Parse(raw)
	if perr != nil {
		return nil, r.reject(ctx, "", raw, errMalformedOrganization(raw))
	}

	userID, perr := uuid.Parse(strings.TrimSpace(req.Claims.Subject()))
	if perr != nil {
		return nil, r.reject(ctx, req.Claims.Subject(), raw, errMissingIdentity())
	}

	span.SetAttributes(attribute.String("idp.user_id", userID.String()))

	if !r.isAdmin(req.Claims) {
		if !req.Claims.MemberOf(orgID.String()) {
			return nil, r.reject(ctx, userID.String(), raw, errNotMember(orgID, "claim"))
		}

		if r.memberships == nil {
			return nil, goerrors.New("membership source is not configured", goerrors.CategoryInternal)
		}

		member, merr := r.memberships.IsMember(ctx, orgID, userID)
		if merr != nil {
			r.logger.Error("membership verification failed", "organization_id", orgID, "user_id", userID, "error", merr)
			return nil, goerrors.Wrap(merr, goerrors.CategoryInternal, "failed to verify organization membership")
		}
		if !member {
			return nil, r.reject(ctx, userID.String(), raw, errNotMember(orgID, "store"))
		}
	}

	if r.organizations == nil {
		return nil, goerrors.New("organization source is not configured", goerrors.CategoryInternal)
	}

	org, ferr := r.organizations.FindOrganization(ctx, orgID)
	if ferr != nil {
		if isNotFound(ferr) {
			return nil, r.reject(ctx, userID.String(), raw, errOrganizationNotFound(orgID))
		}
		r.logger.Error("organization lookup failed", "organization_id", orgID, "error", ferr)
		return nil, goerrors.Wrap(ferr, goerrors.CategoryInternal, "failed to load organization")
	}
	if org == nil {
		return nil, r.reject(ctx, userID.String(), raw, errOrganizationNotFound(orgID))
	}

	oc = NewOrganizationContext(org)
	span.SetAttributes(attribute.String("idp.organization_id", oc.ID.String()))

	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:  ActivityEventOrganizationScope,
		UserID:     userID.String(),
		Outcome:    "established",
		Metadata:   map[string]any{"organization_id": oc.ID.String(), "tenant_id": oc.TenantID.String()},
		OccurredAt: r.now().UTC(),
	})

	return oc, nil
}

func (r *OrganizationResolver) isAdmin(claims AccessClaims) bool {
	for _, p := range r.adminPermissions {
		if claims.HasPermission(p) {
			return true
		}
	}
	return false
}

func (r *OrganizationResolver) reject(ctx context.Context, userID, header string, err *goerrors.Error) error {
	r.logger.Debug("organization scope rejected", "user_id", userID, "header", header, "reason", err.TextCode)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:  ActivityEventOrganizationScope,
		UserID:     userID,
		Outcome:    err.TextCode,
		Metadata:   map[string]any{"header": header},
		OccurredAt: r.now().UTC(),
	})
	return err
}

func errMalformedOrganization(raw string) *goerrors.Error {
	return goerrors.New("organization id header is malformed", goerrors.CategoryBadInput).
		WithTextCode(TextCodeMalformedOrganization).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"value": raw})
}

func errMissingIdentity() *goerrors.Error {
	return goerrors.New("caller identity is missing or malformed", goerrors.CategoryAuth).
		WithTextCode(TextCodeMissingIdentity).
		WithCode(goerrors.CodeUnauthorized)
}

func errNotMember(orgID uuid.UUID, check string) *goerrors.Error {
	return goerrors.New("caller is not a member of the organization", goerrors.CategoryAuthz).
		WithTextCode(TextCodeNotMember).
		WithCode(goerrors.CodeForbidden).
		WithMetadata(map[string]any{"organization_id": orgID.String(), "check": check})
}

func errOrganizationNotFound(orgID uuid.UUID) *goerrors.Error {
	return goerrors.New("organization not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeOrganizationNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"organization_id": orgID.String()})
}
