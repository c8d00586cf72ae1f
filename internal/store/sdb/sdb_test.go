package sdb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"saltapi/internal/identity"
	"saltapi/internal/proposal"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return New(gdb), mock
}

var affiliationColumns = []string{"institution_id", "institution_name", "department", "partner_code", "partner_name", "partner_virtual"}

func TestFindUserByUsername(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT pu.PiptUser_Id AS id.*FROM PiptUser pu JOIN Investigator i .*WHERE pu.Username = \\?").
		WithArgs("pi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "given_name", "family_name", "email"}).
			AddRow(2, "pi", "5f4dcc3b5aa765d61d8327deb882cf99", "Pat", "Investigator", "pat@example.org"))
	mock.ExpectQuery("SELECT DISTINCT Email FROM .Investigator. WHERE PiptUser_Id = \\? AND Email <> \\?").
		WithArgs(2, "pat@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"Email"}).AddRow("pat@uw.example.edu"))
	mock.ExpectQuery("SELECT DISTINCT ins.Institute_Id.*FROM Investigator i").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(affiliationColumns).
			AddRow(20, "University of Wisconsin", nil, "UW", "University of Wisconsin-Madison", false).
			AddRow(30, "Independent Observatory", "Optics", "OTH", "Other", false))

	user, err := store.FindUserByUsername(context.Background(), "pi")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if user.ID != 2 || user.GivenName != "Pat" || user.PasswordHash == "" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.AlternativeEmails) != 1 || user.AlternativeEmails[0] != "pat@uw.example.edu" {
		t.Fatalf("unexpected alternative emails: %v", user.AlternativeEmails)
	}
	if len(user.Affiliations) != 2 {
		t.Fatalf("unexpected affiliations: %+v", user.Affiliations)
	}
	if user.Affiliations[0].Department != nil || user.Affiliations[1].Department == nil || *user.Affiliations[1].Department != "Optics" {
		t.Fatalf("unexpected departments: %+v", user.Affiliations)
	}
	if user.Affiliations[1].PartnerCode != identity.OtherPartnerCode {
		t.Fatalf("unexpected partner: %+v", user.Affiliations[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindUserNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("FROM PiptUser pu").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.FindUserByID(context.Background(), 99); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettingValue(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("FROM PiptUserSetting pus JOIN PiptSetting ps .*WHERE pus.PiptUser_Id = \\? AND ps.PiptSetting_Name = \\?").
		WithArgs(1, identity.SettingAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"Value"}).AddRow(2))
	mock.ExpectQuery("FROM PiptUserSetting pus").
		WithArgs(1, identity.SettingBoard).
		WillReturnRows(sqlmock.NewRows([]string{"Value"}))

	v, err := store.SettingValue(context.Background(), 1, identity.SettingAdmin)
	if err != nil || v != 2 {
		t.Fatalf("SettingValue = %d, %v", v, err)
	}
	if _, err := store.SettingValue(context.Background(), 1, identity.SettingBoard); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTacMemberships(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("FROM PiptUserTAC put JOIN Partner p").
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"partner_code", "chair"}).AddRow("RSA", true).AddRow("UW", false))
	mock.ExpectQuery("FROM PiptUserTAC put").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"partner_code", "chair"}))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM .PiptUser. WHERE PiptUser_Id = \\?").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	tacs, err := store.TacMemberships(context.Background(), 4)
	if err != nil {
		t.Fatalf("TacMemberships: %v", err)
	}
	if len(tacs) != 2 || !tacs[0].Chair || tacs[1].Chair || tacs[1].PartnerCode != "UW" {
		t.Fatalf("unexpected memberships: %+v", tacs)
	}
	if _, err := store.TacMemberships(context.Background(), 42); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProposalParticipants(t *testing.T) {
	store, mock := newMock(t)
	code := proposal.Code("2021-1-SCI-017")

	mock.ExpectQuery("SELECT DISTINCT i.PiptUser_Id FROM ProposalInvestigator pinv").
		WithArgs("2021-1-SCI-017").
		WillReturnRows(sqlmock.NewRows([]string{"PiptUser_Id"}).AddRow(2).AddRow(3).AddRow(5))
	mock.ExpectQuery("SELECT leader.PiptUser_Id AS leader_id, contact.PiptUser_Id AS contact_id FROM ProposalContact pco").
		WithArgs("2021-1-SCI-017").
		WillReturnRows(sqlmock.NewRows([]string{"leader_id", "contact_id"}).AddRow(2, 3))
	mock.ExpectQuery("SUM\\(mp.ReqTimePercent\\) AS percent FROM MultiPartner mp").
		WithArgs("2021-1-SCI-017").
		WillReturnRows(sqlmock.NewRows([]string{"partner_code", "percent"}).AddRow("RSA", 60.0).AddRow("UW", 0.0))

	ids, err := store.ProposalInvestigators(context.Background(), code)
	if err != nil || len(ids) != 3 || ids[2] != 5 {
		t.Fatalf("ProposalInvestigators = %v, %v", ids, err)
	}
	lc, err := store.ProposalLeaderAndContact(context.Background(), code)
	if err != nil || lc.LeaderID != 2 || lc.ContactID != 3 {
		t.Fatalf("ProposalLeaderAndContact = %+v, %v", lc, err)
	}
	shares, err := store.PartnerTimeShares(context.Background(), code)
	if err != nil || len(shares) != 2 || shares[0].PartnerCode != "RSA" || shares[0].Percent != 60 {
		t.Fatalf("PartnerTimeShares = %+v, %v", shares, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUnknownProposal(t *testing.T) {
	store, mock := newMock(t)
	code := proposal.Code("2099-2-NOPE-001")

	mock.ExpectQuery("FROM ProposalInvestigator pinv").WithArgs("2099-2-NOPE-001").
		WillReturnRows(sqlmock.NewRows([]string{"PiptUser_Id"}))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM .ProposalCode.").WithArgs("2099-2-NOPE-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("FROM ProposalContact pco").WithArgs("2099-2-NOPE-001").
		WillReturnRows(sqlmock.NewRows([]string{"leader_id", "contact_id"}))

	if _, err := store.ProposalInvestigators(context.Background(), code); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.ProposalLeaderAndContact(context.Background(), code); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("UPDATE .PiptUser. SET .Password.=\\? WHERE PiptUser_Id = \\?").
		WithArgs("$argon2id$new", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE .PiptUser.").
		WithArgs("$argon2id$new", 8).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdatePasswordHash(context.Background(), 7, "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	if err := store.UpdatePasswordHash(context.Background(), 8, "$argon2id$new"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
