package authz

import (
	"context"

	"saltapi/internal/proposal"
)

type globalCheck struct {
	role  Role
	check func(ctx context.Context, username string) bool
}

type proposalCheck struct {
	role  Role
	check func(ctx context.Context, username string, code proposal.Code) bool
}

// Resolver turns predicate results into an ordered role list. Nothing is
// cached; every call reads the store again.
type Resolver struct {
	leading  []globalCheck
	scoped   []proposalCheck
	trailing []globalCheck
}

// NewResolver builds a resolver over the given predicates.
func NewResolver(p *Predicates) *Resolver {
	return &Resolver{
		leading: []globalCheck{
			{RoleAdministrator, p.IsAdministrator},
			{RoleSaltAstronomer, p.IsSaltAstronomer},
			{RoleBoardMember, p.IsBoardMember},
			{RoleTacChair, p.IsTacChairInGeneral},
			{RoleTacMember, p.IsTacMemberInGeneral},
		},
		scoped: []proposalCheck{
			{RoleProposalTacMember, p.IsTacMemberForProposal},
			{RolePartnerAffiliated, func(ctx context.Context, username string, _ proposal.Code) bool {
				return p.IsPartnerAffiliated(ctx, username)
			}},
			{RolePrincipalInvestigator, p.IsPrincipalInvestigator},
			{RolePrincipalContact, p.IsPrincipalContact},
			{RoleInvestigator, p.IsInvestigator},
		},
		trailing: []globalCheck{
			{RoleEngineer, p.IsEngineer},
		},
	}
}

// Resolve returns the user's roles in a fixed order. Proposal-scoped checks
// only run when code is non-nil.
func (r *Resolver) Resolve(ctx context.Context, username string, code *proposal.Code) []Role {
	roles := make([]Role, 0, 4)
	for _, c := range r.leading {
		if c.check(ctx, username) {
			roles = append(roles, c.role)
		}
	}
	if code != nil {
		for _, c := range r.scoped {
			if c.check(ctx, username, *code) {
				roles = append(roles, c.role)
			}
		}
	}
	for _, c := range r.trailing {
		if c.check(ctx, username) {
			roles = append(roles, c.role)
		}
	}
	return roles
}
