package authz

import (
	"context"

	"saltapi/internal/identity"
	"saltapi/internal/proposal"
)

// Service combines role resolution and permission checks for request handlers.
type Service struct {
	resolver   *Resolver
	authorizer *Authorizer
}

// NewService wires a resolver and authorizer.
func NewService(resolver *Resolver, authorizer *Authorizer) *Service {
	return &Service{resolver: resolver, authorizer: authorizer}
}

// Roles resolves the user's roles, scoped to code when it is non-nil.
func (s *Service) Roles(ctx context.Context, user identity.User, code *proposal.Code) []Role {
	return s.resolver.Resolve(ctx, user.Username, code)
}

// Can reports whether user may perform perm in the context of req.
func (s *Service) Can(ctx context.Context, user identity.User, perm Permission, req Request) (bool, error) {
	var roles []Role
	if perm != PermUpdateStatus {
		roles = s.Roles(ctx, user, req.ProposalCode)
	}
	return s.authorizer.Authorize(user, roles, perm, req)
}

// Require is Can with a denial reported as ErrForbidden.
func (s *Service) Require(ctx context.Context, user identity.User, perm Permission, req Request) error {
	var roles []Role
	if perm != PermUpdateStatus {
		roles = s.Roles(ctx, user, req.ProposalCode)
	}
	return s.authorizer.Require(user, roles, perm, req)
}
