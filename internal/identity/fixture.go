package identity

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"saltapi/internal/proposal"
)

var _ Store = (*MemoryStore)(nil)

type fixtureFile struct {
	Partners []struct {
		Code    string `yaml:"code"`
		Name    string `yaml:"name"`
		Virtual bool   `yaml:"virtual"`
	} `yaml:"partners"`
	Institutes []struct {
		ID         int64  `yaml:"id"`
		Name       string `yaml:"name"`
		Department string `yaml:"department"`
		Partner    string `yaml:"partner"`
	} `yaml:"institutes"`
	Users []struct {
		ID                int64          `yaml:"id"`
		Username          string         `yaml:"username"`
		GivenName         string         `yaml:"given_name"`
		FamilyName        string         `yaml:"family_name"`
		Email             string         `yaml:"email"`
		AlternativeEmails []string       `yaml:"alternative_emails"`
		PasswordHash      string         `yaml:"password_hash"`
		Institutes        []int64        `yaml:"institutes"`
		Settings          map[string]int `yaml:"settings"`
		Tac               []struct {
			Partner string `yaml:"partner"`
			Chair   bool   `yaml:"chair"`
		} `yaml:"tac"`
	} `yaml:"users"`
	Proposals []struct {
		Code          proposal.Code      `yaml:"code"`
		Leader        int64              `yaml:"leader"`
		Contact       int64              `yaml:"contact"`
		Investigators []int64            `yaml:"investigators"`
		TimeShares    map[string]float64 `yaml:"time_shares"`
	} `yaml:"proposals"`
}

// LoadFixtureFile reads a YAML fixture from path into a new MemoryStore.
func LoadFixtureFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFixture(f)
}

// LoadFixture decodes a YAML fixture of partners, institutes, users and proposals.
func LoadFixture(r io.Reader) (*MemoryStore, error) {
	var ff fixtureFile
	if err := yaml.NewDecoder(r).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode identity fixture: %w", err)
	}

	type partner struct {
		name    string
		virtual bool
	}
	partners := make(map[string]partner, len(ff.Partners))
	for _, p := range ff.Partners {
		partners[p.Code] = partner{name: p.Name, virtual: p.Virtual}
	}
	institutes := make(map[int64]Affiliation, len(ff.Institutes))
	for _, inst := range ff.Institutes {
		p, ok := partners[inst.Partner]
		if !ok {
			return nil, fmt.Errorf("institute %d: unknown partner %q", inst.ID, inst.Partner)
		}
		a := Affiliation{
			InstitutionID:   inst.ID,
			InstitutionName: inst.Name,
			PartnerCode:     inst.Partner,
			PartnerName:     p.name,
			PartnerVirtual:  p.virtual,
		}
		if inst.Department != "" {
			dept := inst.Department
			a.Department = &dept
		}
		institutes[inst.ID] = a
	}

	store := NewMemoryStore()
	for _, fu := range ff.Users {
		u := User{
			ID:                fu.ID,
			Username:          fu.Username,
			GivenName:         fu.GivenName,
			FamilyName:        fu.FamilyName,
			Email:             fu.Email,
			AlternativeEmails: fu.AlternativeEmails,
			PasswordHash:      fu.PasswordHash,
		}
		for _, id := range fu.Institutes {
			a, ok := institutes[id]
			if !ok {
				return nil, fmt.Errorf("user %s: unknown institute %d", fu.Username, id)
			}
			u.Affiliations = append(u.Affiliations, a)
		}
		var tac []TacMembership
		for _, t := range fu.Tac {
			tac = append(tac, TacMembership{PartnerCode: t.Partner, Chair: t.Chair})
		}
		store.PutUser(u, fu.Settings, tac)
	}
	for _, fp := range ff.Proposals {
		var shares []PartnerShare
		for code, pct := range fp.TimeShares {
			shares = append(shares, PartnerShare{PartnerCode: code, Percent: pct})
		}
		store.PutProposal(fp.Code, LeaderAndContact{LeaderID: fp.Leader, ContactID: fp.Contact}, fp.Investigators, shares)
	}
	return store, nil
}
