// Package authz derives a user's roles from the science database and decides
// which actions those roles, and the request context, allow.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCapability is returned for permission or role names that do not exist.
	ErrUnknownCapability = errors.New("authz: unknown capability")
	// ErrForbidden is returned when an authorization check fails.
	ErrForbidden = errors.New("forbidden")
)

// Role is a global or proposal-scoped role tag.
type Role string

const (
	RoleAdministrator         Role = "ADMINISTRATOR"
	RoleSaltAstronomer        Role = "SALT_ASTRONOMER"
	RoleBoardMember           Role = "BOARD_MEMBER"
	RoleTacChair              Role = "TAC_CHAIR"
	RoleTacMember             Role = "TAC_MEMBER"
	RoleProposalTacMember     Role = "PROPOSAL_TAC_MEMBER"
	RolePartnerAffiliated     Role = "PARTNER_AFFILIATED"
	RolePrincipalInvestigator Role = "PRINCIPAL_INVESTIGATOR"
	RolePrincipalContact      Role = "PRINCIPAL_CONTACT"
	RoleInvestigator          Role = "INVESTIGATOR"
	RoleEngineer              Role = "ENGINEER"
)

var knownRoles = map[Role]bool{
	RoleAdministrator:         true,
	RoleSaltAstronomer:        true,
	RoleBoardMember:           true,
	RoleTacChair:              true,
	RoleTacMember:             true,
	RoleProposalTacMember:     true,
	RolePartnerAffiliated:     true,
	RolePrincipalInvestigator: true,
	RolePrincipalContact:      true,
	RoleInvestigator:          true,
	RoleEngineer:              true,
}

// ParseRole returns the role with the given name.
func ParseRole(name string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(name)))
	if !knownRoles[r] {
		return "", fmt.Errorf("%w: role %q", ErrUnknownCapability, name)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// HasRole reports whether roles contains any of the wanted roles.
func HasRole(roles []Role, wanted ...Role) bool {
	for _, have := range roles {
		for _, w := range wanted {
			if have == w {
				return true
			}
		}
	}
	return false
}
