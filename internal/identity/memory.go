package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"saltapi/internal/proposal"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]*memoryUser
	byName    map[string]int64
	proposals map[proposal.Code]*memoryProposal
}

type memoryUser struct {
	user     User
	settings map[string]int
	tac      []TacMembership
}

type memoryProposal struct {
	leaderAndContact LeaderAndContact
	investigators    []int64
	shares           []PartnerShare
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*memoryUser),
		byName:    make(map[string]int64),
		proposals: make(map[proposal.Code]*memoryProposal),
	}
}

// PutUser adds or replaces a user together with settings and TAC seats.
func (s *MemoryStore) PutUser(u User, settings map[string]int, tac []TacMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok {
		delete(s.byName, strings.ToLower(old.user.Username))
	}
	copied := make(map[string]int, len(settings))
	for k, v := range settings {
		copied[k] = v
	}
	s.users[u.ID] = &memoryUser{
		user:     u,
		settings: copied,
		tac:      append([]TacMembership(nil), tac...),
	}
	s.byName[strings.ToLower(u.Username)] = u.ID
}

// PutProposal adds or replaces a proposal's participants and requested time shares.
func (s *MemoryStore) PutProposal(code proposal.Code, lc LeaderAndContact, investigators []int64, shares []PartnerShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[code] = &memoryProposal{
		leaderAndContact: lc,
		investigators:    append([]int64(nil), investigators...),
		shares:           append([]PartnerShare(nil), shares...),
	}
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(s.users[id].user), nil
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(u.user), nil
}

func (s *MemoryStore) Affiliations(ctx context.Context, userID int64) ([]Affiliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Affiliation(nil), u.user.Affiliations...), nil
}

func (s *MemoryStore) SettingValue(ctx context.Context, userID int64, setting string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	v, ok := u.settings[setting]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) TacMemberships(ctx context.Context, userID int64) ([]TacMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]TacMembership(nil), u.tac...), nil
}

func (s *MemoryStore) ProposalInvestigators(ctx context.Context, code proposal.Code) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[code]
	if !ok {
		return nil, ErrNotFound
	}
	ids := append([]int64(nil), p.investigators...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) ProposalLeaderAndContact(ctx context.Context, code proposal.Code) (LeaderAndContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[code]
	if !ok {
		return LeaderAndContact{}, ErrNotFound
	}
	return p.leaderAndContact, nil
}

func (s *MemoryStore) PartnerTimeShares(ctx context.Context, code proposal.Code) ([]PartnerShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[code]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]PartnerShare(nil), p.shares...), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.user.PasswordHash = hash
	return nil
}

func cloneUser(u User) User {
	u.AlternativeEmails = append([]string(nil), u.AlternativeEmails...)
	u.Affiliations = append([]Affiliation(nil), u.Affiliations...)
	return u
}
