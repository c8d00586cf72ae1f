// Package sdb reads users, affiliations and proposal participants from the
// SALT science database (MySQL).
package sdb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"saltapi/internal/identity"
	"saltapi/internal/proposal"
)

// Store is an identity.Store over the science database.
type Store struct {
	db *gorm.DB
}

var _ identity.Store = (*Store)(nil)

// Open connects to the science database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open science database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(15 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping science database: %w", err)
	}
	return &Store{db: gdb}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type userRow struct {
	ID           int64
	Username     string
	PasswordHash string
	GivenName    string
	FamilyName   string
	Email        string
}

const userColumns = "pu.PiptUser_Id AS id, pu.Username AS username, pu.Password AS password_hash, " +
	"i.FirstName AS given_name, i.Surname AS family_name, i.Email AS email"

func (s *Store) FindUserByUsername(ctx context.Context, username string) (identity.User, error) {
	return s.findUser(ctx, "pu.Username = ?", username)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (identity.User, error) {
	return s.findUser(ctx, "pu.PiptUser_Id = ?", id)
}

func (s *Store) findUser(ctx context.Context, cond string, arg any) (identity.User, error) {
	var row userRow
	res := s.db.WithContext(ctx).
		Table("PiptUser pu").
		Select(userColumns).
		Joins("JOIN Investigator i ON i.Investigator_Id = pu.Investigator_Id").
		Where(cond, arg).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return identity.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return identity.User{}, identity.ErrNotFound
	}

	user := identity.User{
		ID:           row.ID,
		Username:     row.Username,
		GivenName:    row.GivenName,
		FamilyName:   row.FamilyName,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
	}
	if err := s.db.WithContext(ctx).
		Table("Investigator").
		Where("PiptUser_Id = ? AND Email <> ?", row.ID, row.Email).
		Order("Email").
		Pluck("DISTINCT Email", &user.AlternativeEmails).Error; err != nil {
		return identity.User{}, err
	}
	affiliations, err := s.affiliations(ctx, row.ID)
	if err != nil {
		return identity.User{}, err
	}
	user.Affiliations = affiliations
	return user, nil
}

func (s *Store) Affiliations(ctx context.Context, userID int64) ([]identity.Affiliation, error) {
	affiliations, err := s.affiliations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(affiliations) == 0 {
		if err := s.requireUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	return affiliations, nil
}

func (s *Store) affiliations(ctx context.Context, userID int64) ([]identity.Affiliation, error) {
	var rows []identity.Affiliation
	err := s.db.WithContext(ctx).
		Table("Investigator i").
		Select("DISTINCT ins.Institute_Id AS institution_id, inn.InstituteName_Name AS institution_name, "+
			"ins.Department AS department, p.Partner_Code AS partner_code, p.Partner_Name AS partner_name, "+
			"p.Virtual AS partner_virtual").
		Joins("JOIN Institute ins ON ins.Institute_Id = i.Institute_Id").
		Joins("JOIN InstituteName inn ON inn.InstituteName_Id = ins.InstituteName_Id").
		Joins("JOIN Partner p ON p.Partner_Id = ins.Partner_Id").
		Where("i.PiptUser_Id = ?", userID).
		Order("ins.Institute_Id").
		Scan(&rows).Error
	return rows, err
}

func (s *Store) SettingValue(ctx context.Context, userID int64, setting string) (int, error) {
	var values []int
	err := s.db.WithContext(ctx).
		Table("PiptUserSetting pus").
		Joins("JOIN PiptSetting ps ON ps.PiptSetting_Id = pus.PiptSetting_Id").
		Where("pus.PiptUser_Id = ? AND ps.PiptSetting_Name = ?", userID, setting).
		Limit(1).
		Pluck("pus.Value", &values).Error
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, identity.ErrNotFound
	}
	return values[0], nil
}

type tacRow struct {
	PartnerCode string
	Chair       bool
}

func (s *Store) TacMemberships(ctx context.Context, userID int64) ([]identity.TacMembership, error) {
	var rows []tacRow
	err := s.db.WithContext(ctx).
		Table("PiptUserTAC put").
		Select("p.Partner_Code AS partner_code, put.Chair AS chair").
		Joins("JOIN Partner p ON p.Partner_Id = put.Partner_Id").
		Where("put.PiptUser_Id = ?", userID).
		Order("p.Partner_Code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if err := s.requireUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	out := make([]identity.TacMembership, 0, len(rows))
	for _, r := range rows {
		out = append(out, identity.TacMembership{PartnerCode: r.PartnerCode, Chair: r.Chair})
	}
	return out, nil
}

func (s *Store) ProposalInvestigators(ctx context.Context, code proposal.Code) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Table("ProposalInvestigator pinv").
		Joins("JOIN ProposalCode pc ON pc.ProposalCode_Id = pinv.ProposalCode_Id").
		Joins("JOIN Investigator i ON i.Investigator_Id = pinv.Investigator_Id").
		Where("pc.Proposal_Code = ? AND i.PiptUser_Id IS NOT NULL", code.String()).
		Order("i.PiptUser_Id").
		Pluck("DISTINCT i.PiptUser_Id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if err := s.requireProposal(ctx, code); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *Store) ProposalLeaderAndContact(ctx context.Context, code proposal.Code) (identity.LeaderAndContact, error) {
	var row identity.LeaderAndContact
	res := s.db.WithContext(ctx).
		Table("ProposalContact pco").
		Select("leader.PiptUser_Id AS leader_id, contact.PiptUser_Id AS contact_id").
		Joins("JOIN ProposalCode pc ON pc.ProposalCode_Id = pco.ProposalCode_Id").
		Joins("JOIN Investigator leader ON leader.Investigator_Id = pco.Leader_Id").
		Joins("JOIN Investigator contact ON contact.Investigator_Id = pco.Contact_Id").
		Where("pc.Proposal_Code = ?", code.String()).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return identity.LeaderAndContact{}, res.Error
	}
	if res.RowsAffected == 0 {
		return identity.LeaderAndContact{}, identity.ErrNotFound
	}
	return row, nil
}

// PartnerTimeShares sums the requested time percentages over all semesters.
func (s *Store) PartnerTimeShares(ctx context.Context, code proposal.Code) ([]identity.PartnerShare, error) {
	var rows []identity.PartnerShare
	err := s.db.WithContext(ctx).
		Table("MultiPartner mp").
		Select("p.Partner_Code AS partner_code, SUM(mp.ReqTimePercent) AS percent").
		Joins("JOIN ProposalCode pc ON pc.ProposalCode_Id = mp.ProposalCode_Id").
		Joins("JOIN Partner p ON p.Partner_Id = mp.Partner_Id").
		Where("pc.Proposal_Code = ?", code.String()).
		Group("p.Partner_Code").
		Order("p.Partner_Code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if err := s.requireProposal(ctx, code); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	res := s.db.WithContext(ctx).
		Table("PiptUser").
		Where("PiptUser_Id = ?", userID).
		Update("Password", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) requireUser(ctx context.Context, userID int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Table("PiptUser").Where("PiptUser_Id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) requireProposal(ctx context.Context, code proposal.Code) error {
	var n int64
	if err := s.db.WithContext(ctx).Table("ProposalCode").Where("Proposal_Code = ?", code.String()).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
