package authz

import (
	"fmt"
	"net/netip"
	"strings"

	"saltapi/internal/identity"
	"saltapi/internal/obs"
	"saltapi/internal/proposal"
)

// Permission names an action checked against roles and request context.
type Permission string

const (
	PermSubmitProposal Permission = "SUBMIT_PROPOSAL"
	PermViewProposal   Permission = "VIEW_PROPOSAL"
	PermUpdateStatus   Permission = "UPDATE_STATUS"
)

// viewers may see a proposal.
var viewers = []Role{
	RoleAdministrator,
	RoleSaltAstronomer,
	RolePrincipalInvestigator,
	RolePrincipalContact,
	RoleInvestigator,
	RoleProposalTacMember,
}

// ParsePermission returns the permission with the given name.
func ParsePermission(name string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(name)))
	switch p {
	case PermSubmitProposal, PermViewProposal, PermUpdateStatus:
		return p, nil
	}
	return "", fmt.Errorf("%w: permission %q", ErrUnknownCapability, name)
}

func (p Permission) String() string { return string(p) }

// Request carries the context of the action being authorized.
type Request struct {
	// ProposalCode is nil for actions not tied to an existing proposal.
	ProposalCode *proposal.Code
	ClientIP     netip.Addr
}

// Authorizer evaluates permissions. Status updates are only accepted from
// trusted networks, whatever the caller's roles.
type Authorizer struct {
	trusted []netip.Prefix
}

// NewAuthorizer returns an authorizer trusting the given network prefixes.
func NewAuthorizer(trusted []netip.Prefix) *Authorizer {
	prefixes := make([]netip.Prefix, 0, len(trusted))
	for _, p := range trusted {
		if p.IsValid() {
			prefixes = append(prefixes, p.Masked())
		}
	}
	return &Authorizer{trusted: prefixes}
}

// Trusted reports whether addr lies in one of the trusted prefixes.
func (a *Authorizer) Trusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Authorize decides whether user, holding roles, may perform perm. Roles must
// have been resolved for req.ProposalCode when one is given.
func (a *Authorizer) Authorize(user identity.User, roles []Role, perm Permission, req Request) (bool, error) {
	var allowed bool
	switch perm {
	case PermUpdateStatus:
		allowed = a.Trusted(req.ClientIP)
	case PermSubmitProposal:
		if req.ProposalCode == nil {
			allowed = user.ID != 0
		} else {
			allowed = HasRole(roles, RolePrincipalInvestigator, RolePrincipalContact)
		}
	case PermViewProposal:
		allowed = req.ProposalCode != nil && HasRole(roles, viewers...)
	default:
		return false, fmt.Errorf("%w: permission %q", ErrUnknownCapability, perm)
	}
	obs.ObserveAuthorization(string(perm), allowed)
	return allowed, nil
}

// Require is Authorize with a denial reported as ErrForbidden.
func (a *Authorizer) Require(user identity.User, roles []Role, perm Permission, req Request) error {
	ok, err := a.Authorize(user, roles, perm, req)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
