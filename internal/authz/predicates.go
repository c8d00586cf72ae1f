package authz

import (
	"context"
	"errors"

	"saltapi/internal/identity"
	"saltapi/internal/obs"
	"saltapi/internal/proposal"
)

// Predicates are the boolean role checks against the identity store. A
// username or proposal that does not exist yields false. Other store errors
// are logged and also yield false.
type Predicates struct {
	store identity.Store
}

// NewPredicates returns predicates backed by store.
func NewPredicates(store identity.Store) *Predicates {
	return &Predicates{store: store}
}

// IsAdministrator: admin right above 1.
func (p *Predicates) IsAdministrator(ctx context.Context, username string) bool {
	return p.setting(ctx, "is_administrator", username, identity.SettingAdmin) > 1
}

// IsSaltAstronomer: astronomer right set.
func (p *Predicates) IsSaltAstronomer(ctx context.Context, username string) bool {
	return p.setting(ctx, "is_salt_astronomer", username, identity.SettingAstronomer) > 0
}

// IsBoardMember: board right set.
func (p *Predicates) IsBoardMember(ctx context.Context, username string) bool {
	return p.setting(ctx, "is_board_member", username, identity.SettingBoard) > 0
}

// IsTacChairInGeneral: chair of any TAC.
func (p *Predicates) IsTacChairInGeneral(ctx context.Context, username string) bool {
	for _, m := range p.tacMemberships(ctx, "is_tac_chair_in_general", username) {
		if m.Chair {
			return true
		}
	}
	return false
}

// IsTacMemberInGeneral: member of any TAC.
func (p *Predicates) IsTacMemberInGeneral(ctx context.Context, username string) bool {
	return len(p.tacMemberships(ctx, "is_tac_member_in_general", username)) > 0
}

// IsTacMemberForProposal reports whether the user sits on the TAC of a partner
// from which the proposal requests time.
func (p *Predicates) IsTacMemberForProposal(ctx context.Context, username string, code proposal.Code) bool {
	return p.tacForProposal(ctx, "is_tac_member_for_proposal", username, code, false)
}

// IsTacChairForProposal is IsTacMemberForProposal restricted to chairs.
func (p *Predicates) IsTacChairForProposal(ctx context.Context, username string, code proposal.Code) bool {
	return p.tacForProposal(ctx, "is_tac_chair_for_proposal", username, code, true)
}

// IsPartnerAffiliated reports whether one of the user's institutes belongs to
// a real partner, i.e. neither "Other" nor a virtual partner.
func (p *Predicates) IsPartnerAffiliated(ctx context.Context, username string) bool {
	user, ok := p.user(ctx, "is_partner_affiliated", username)
	if !ok {
		return false
	}
	affiliations, err := p.store.Affiliations(ctx, user.ID)
	if err != nil {
		p.fail("is_partner_affiliated", username, err)
		return false
	}
	for _, a := range affiliations {
		if a.PartnerCode != identity.OtherPartnerCode && !a.PartnerVirtual {
			return true
		}
	}
	return false
}

// IsPrincipalInvestigator: the proposal's leader.
func (p *Predicates) IsPrincipalInvestigator(ctx context.Context, username string, code proposal.Code) bool {
	const name = "is_principal_investigator"
	user, lc, ok := p.leaderAndContact(ctx, name, username, code)
	return ok && lc.LeaderID == user.ID
}

// IsPrincipalContact: the proposal's contact.
func (p *Predicates) IsPrincipalContact(ctx context.Context, username string, code proposal.Code) bool {
	const name = "is_principal_contact"
	user, lc, ok := p.leaderAndContact(ctx, name, username, code)
	return ok && lc.ContactID == user.ID
}

// IsInvestigator: listed among the proposal's investigators.
func (p *Predicates) IsInvestigator(ctx context.Context, username string, code proposal.Code) bool {
	const name = "is_investigator"
	user, ok := p.user(ctx, name, username)
	if !ok {
		return false
	}
	ids, err := p.store.ProposalInvestigators(ctx, code)
	if err != nil {
		p.fail(name, username, err)
		return false
	}
	for _, id := range ids {
		if id == user.ID {
			return true
		}
	}
	return false
}

// IsEngineer is not implemented yet and always reports false.
func (p *Predicates) IsEngineer(ctx context.Context, username string) bool {
	return false
}

func (p *Predicates) user(ctx context.Context, predicate, username string) (identity.User, bool) {
	user, err := p.store.FindUserByUsername(ctx, username)
	if err != nil {
		p.fail(predicate, username, err)
		return identity.User{}, false
	}
	return user, true
}

func (p *Predicates) setting(ctx context.Context, predicate, username, setting string) int {
	user, ok := p.user(ctx, predicate, username)
	if !ok {
		return 0
	}
	v, err := p.store.SettingValue(ctx, user.ID, setting)
	if err != nil {
		p.fail(predicate, username, err)
		return 0
	}
	return v
}

func (p *Predicates) tacMemberships(ctx context.Context, predicate, username string) []identity.TacMembership {
	user, ok := p.user(ctx, predicate, username)
	if !ok {
		return nil
	}
	tacs, err := p.store.TacMemberships(ctx, user.ID)
	if err != nil {
		p.fail(predicate, username, err)
		return nil
	}
	return tacs
}

func (p *Predicates) tacForProposal(ctx context.Context, predicate, username string, code proposal.Code, chairOnly bool) bool {
	tacs := p.tacMemberships(ctx, predicate, username)
	if len(tacs) == 0 {
		return false
	}
	shares, err := p.store.PartnerTimeShares(ctx, code)
	if err != nil {
		p.fail(predicate, username, err)
		return false
	}
	requested := make(map[string]bool, len(shares))
	for _, s := range shares {
		if s.Percent > 0 {
			requested[s.PartnerCode] = true
		}
	}
	for _, m := range tacs {
		if chairOnly && !m.Chair {
			continue
		}
		if requested[m.PartnerCode] {
			return true
		}
	}
	return false
}

func (p *Predicates) leaderAndContact(ctx context.Context, predicate, username string, code proposal.Code) (identity.User, identity.LeaderAndContact, bool) {
	user, ok := p.user(ctx, predicate, username)
	if !ok {
		return identity.User{}, identity.LeaderAndContact{}, false
	}
	lc, err := p.store.ProposalLeaderAndContact(ctx, code)
	if err != nil {
		p.fail(predicate, username, err)
		return identity.User{}, identity.LeaderAndContact{}, false
	}
	return user, lc, true
}

func (p *Predicates) fail(predicate, username string, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		return
	}
	obs.Warn("role predicate failed", map[string]any{
		"predicate": predicate,
		"username":  username,
		"error":     err.Error(),
	})
}
