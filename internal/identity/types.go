// Package identity models the users, affiliations and proposal participants
// held in the science database.
package identity

import (
	"context"
	"errors"

	"saltapi/internal/proposal"
)

// ErrNotFound is returned when a user, setting or proposal does not exist.
var ErrNotFound = errors.New("identity: not found")

// Partner code of the catch-all "Other" partner.
const OtherPartnerCode = "OTH"

// Setting names used by role predicates.
const (
	SettingAdmin      = "RightAdmin"
	SettingAstronomer = "RightAstronomer"
	SettingBoard      = "RightBoard"
)

// User is a science database user.
type User struct {
	ID                int64         `json:"id"`
	Username          string        `json:"username"`
	GivenName         string        `json:"given_name"`
	FamilyName        string        `json:"family_name"`
	Email             string        `json:"email"`
	AlternativeEmails []string      `json:"alternative_emails"`
	PasswordHash      string        `json:"-"`
	Affiliations      []Affiliation `json:"affiliations"`
}

// Affiliation links a user to an institute and its partner.
type Affiliation struct {
	InstitutionID   int64   `json:"institution_id"`
	InstitutionName string  `json:"institution_name"`
	Department      *string `json:"department,omitempty"`
	PartnerCode     string  `json:"partner_code"`
	PartnerName     string  `json:"partner_name"`
	PartnerVirtual  bool    `json:"-"`
}

// TacMembership is a seat on a partner's time allocation committee.
type TacMembership struct {
	PartnerCode string
	Chair       bool
}

// LeaderAndContact identifies a proposal's principal investigator and principal contact.
type LeaderAndContact struct {
	LeaderID  int64
	ContactID int64
}

// PartnerShare is the percentage of time a proposal requests from a partner.
type PartnerShare struct {
	PartnerCode string
	Percent     float64
}

// Store is the read side of the science database used for authentication and roles.
// Lookups of missing entities fail with ErrNotFound.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)
	Affiliations(ctx context.Context, userID int64) ([]Affiliation, error)
	SettingValue(ctx context.Context, userID int64, setting string) (int, error)
	TacMemberships(ctx context.Context, userID int64) ([]TacMembership, error)
	ProposalInvestigators(ctx context.Context, code proposal.Code) ([]int64, error)
	ProposalLeaderAndContact(ctx context.Context, code proposal.Code) (LeaderAndContact, error)
	PartnerTimeShares(ctx context.Context, code proposal.Code) ([]PartnerShare, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}
