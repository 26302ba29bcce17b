// Package storetest holds the behaviour suite every CredentialStore backend
// runs against.
package storetest

import (
	"context"
	"sort"

	"github.com/stretchr/testify/suite"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Fixture is a fresh backend seeded with Seed. Snapshot returns a stable
// rendering of everything persisted so tests can assert "unchanged".
type Fixture struct {
	Store    store.CredentialStore
	Snapshot func() string
}

// Seed is the starting content of every test: the default administrator and
// one user without tokens.
var Seed = []types.Record{
	{Name: types.Name{Last: "admin"}, Identity: "admin", Password: "admin"},
	{Name: types.Name{Last: "Max", First: "Mustermann"}, Identity: "identifier1", Password: "password1"},
}

type CredentialStoreSuite struct {
	suite.Suite

	// NewFixture builds a backend holding exactly Seed.
	NewFixture func() Fixture

	ctx context.Context
	fx  Fixture
}

func (s *CredentialStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.fx = s.NewFixture()
}

func (s *CredentialStoreSuite) record(target types.Identifier) string {
	line, st, err := s.fx.Store.GetRecord(s.ctx, "admin", "admin", target)
	s.Require().NoError(err)
	s.Require().Equal(store.StatusOK, st)
	return line
}

func (s *CredentialStoreSuite) add(target, token types.Identifier) store.Status {
	st, err := s.fx.Store.AddToken(s.ctx, "admin", "admin", target, token)
	s.Require().NoError(err)
	return st
}

// Authentication

func (s *CredentialStoreSuite) TestAuthenticate() {
	ok, err := s.fx.Store.Authenticate(s.ctx, "admin", "admin")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.fx.Store.Authenticate(s.ctx, "admin", "wrong")
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.fx.Store.Authenticate(s.ctx, "nobody", "admin")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CredentialStoreSuite) TestAuthenticateIsCaseSensitive() {
	ok, err := s.fx.Store.Authenticate(s.ctx, "Admin", "admin")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CredentialStoreSuite) TestAnyRecordCanAuthenticateAsAdmin() {
	st, err := s.fx.Store.AddToken(s.ctx, "identifier1", "password1", "admin", "tok9")
	s.Require().NoError(err)
	s.Equal(store.StatusOK, st)
}

// GetRecord

func (s *CredentialStoreSuite) TestGetRecord() {
	s.Equal("admin;admin;admin:", s.record("admin"))
	s.Equal("Max,Mustermann;identifier1;password1:", s.record("identifier1"))
}

func (s *CredentialStoreSuite) TestGetRecordUnknownTarget() {
	line, st, err := s.fx.Store.GetRecord(s.ctx, "admin", "admin", "ghost")
	s.Require().NoError(err)
	s.Equal(store.StatusNotFound, st)
	s.Empty(line)
}

func (s *CredentialStoreSuite) TestGetRecordWrongPassword() {
	line, st, err := s.fx.Store.GetRecord(s.ctx, "admin", "nope", "admin")
	s.Require().NoError(err)
	s.Equal(store.StatusAuthFailure, st)
	s.Empty(line)
}

// AddToken

func (s *CredentialStoreSuite) TestAddToken() {
	s.Equal(store.StatusOK, s.add("identifier1", "tok1"))
	s.Equal("Max,Mustermann;identifier1;password1:tok1", s.record("identifier1"))

	s.Equal(store.StatusOK, s.add("identifier1", "tok2"))
	s.Equal("Max,Mustermann;identifier1;password1:tok1;tok2", s.record("identifier1"))
}

func (s *CredentialStoreSuite) TestAddTokenDuplicateOnSameRecord() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	before := s.fx.Snapshot()

	s.Equal(store.StatusDuplicateToken, s.add("identifier1", "tok1"))
	s.Equal(before, s.fx.Snapshot())
}

func (s *CredentialStoreSuite) TestAddTokenDuplicateAcrossRecords() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	before := s.fx.Snapshot()

	s.Equal(store.StatusDuplicateToken, s.add("admin", "tok1"))
	s.Equal(before, s.fx.Snapshot())
	s.Equal("admin;admin;admin:", s.record("admin"))
}

func (s *CredentialStoreSuite) TestAddTokenUnknownTarget() {
	before := s.fx.Snapshot()
	s.Equal(store.StatusNotFound, s.add("ghost", "tok1"))
	s.Equal(before, s.fx.Snapshot())
}

func (s *CredentialStoreSuite) TestAddTokenRejectsSeparators() {
	before := s.fx.Snapshot()
	for _, tok := range []types.Identifier{"", "a;b", "a:b", "a$b", "a\nb"} {
		s.Equal(store.StatusInvalidArgument, s.add("identifier1", tok), "token %q", tok)
	}
	s.Equal(before, s.fx.Snapshot())
}

func (s *CredentialStoreSuite) TestWrongPasswordLeavesStorageUnchanged() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	before := s.fx.Snapshot()

	st, err := s.fx.Store.AddToken(s.ctx, "admin", "wrong", "identifier1", "tok2")
	s.Require().NoError(err)
	s.Equal(store.StatusAuthFailure, st)

	st, err = s.fx.Store.DeleteToken(s.ctx, "admin", "wrong", "identifier1", "tok1")
	s.Require().NoError(err)
	s.Equal(store.StatusAuthFailure, st)

	st, err = s.fx.Store.DeleteAllTokens(s.ctx, "admin", "wrong", "identifier1")
	s.Require().NoError(err)
	s.Equal(store.StatusAuthFailure, st)

	s.Equal(before, s.fx.Snapshot())
}

// DeleteToken

func (s *CredentialStoreSuite) TestDeleteToken() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok2"))

	st, err := s.fx.Store.DeleteToken(s.ctx, "admin", "admin", "identifier1", "tok1")
	s.Require().NoError(err)
	s.Equal(store.StatusOK, st)
	s.Equal("Max,Mustermann;identifier1;password1:tok2", s.record("identifier1"))
}

func (s *CredentialStoreSuite) TestDeleteTokenAbsentIsNoChange() {
	before := s.fx.Snapshot()
	st, err := s.fx.Store.DeleteToken(s.ctx, "admin", "admin", "identifier1", "tok1")
	s.Require().NoError(err)
	s.Equal(store.StatusNoChange, st)
	s.Equal(before, s.fx.Snapshot())
}

func (s *CredentialStoreSuite) TestDeleteTokenOnlyTouchesTarget() {
	s.Require().Equal(store.StatusOK, s.add("admin", "tokA"))
	st, err := s.fx.Store.DeleteToken(s.ctx, "admin", "admin", "identifier1", "tokA")
	s.Require().NoError(err)
	s.Equal(store.StatusNoChange, st)
	s.Equal("admin;admin;admin:tokA", s.record("admin"))
}

// DeleteAllTokens

func (s *CredentialStoreSuite) TestDeleteAllTokensKeepsRecord() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok2"))

	st, err := s.fx.Store.DeleteAllTokens(s.ctx, "admin", "admin", "identifier1")
	s.Require().NoError(err)
	s.Equal(store.StatusOK, st)
	s.Equal("Max,Mustermann;identifier1;password1:", s.record("identifier1"))

	ok, err := s.fx.Store.Authenticate(s.ctx, "identifier1", "password1")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *CredentialStoreSuite) TestDeleteAllTokensFreesTokensForReuse() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	_, err := s.fx.Store.DeleteAllTokens(s.ctx, "admin", "admin", "identifier1")
	s.Require().NoError(err)

	s.Equal(store.StatusOK, s.add("admin", "tok1"))
}

func (s *CredentialStoreSuite) TestDeleteAllTokensUnknownTarget() {
	st, err := s.fx.Store.DeleteAllTokens(s.ctx, "admin", "admin", "ghost")
	s.Require().NoError(err)
	s.Equal(store.StatusNotFound, st)
}

// ListAllTokens

func (s *CredentialStoreSuite) TestListAllTokens() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok2"))
	s.Require().Equal(store.StatusOK, s.add("admin", "tok3"))

	toks, st, err := s.fx.Store.ListAllTokens(s.ctx, "admin", "admin")
	s.Require().NoError(err)
	s.Require().Equal(store.StatusOK, st)

	ids := make([]string, 0, len(toks))
	for _, t := range toks {
		s.Equal(types.Authorized, t.Trust)
		ids = append(ids, string(t.ID))
	}
	sort.Strings(ids)
	s.Equal([]string{"tok1", "tok2", "tok3"}, ids)
}

func (s *CredentialStoreSuite) TestListAllTokensEmpty() {
	toks, st, err := s.fx.Store.ListAllTokens(s.ctx, "admin", "admin")
	s.Require().NoError(err)
	s.Equal(store.StatusOK, st)
	s.Empty(toks)
}

func (s *CredentialStoreSuite) TestListAllTokensWrongPassword() {
	toks, st, err := s.fx.Store.ListAllTokens(s.ctx, "admin", "x")
	s.Require().NoError(err)
	s.Equal(store.StatusAuthFailure, st)
	s.Nil(toks)
}

// EnsureRecord

func (s *CredentialStoreSuite) TestEnsureRecord() {
	created, err := s.fx.Store.EnsureRecord(s.ctx, types.Record{
		Name: types.Name{Last: "Erika", First: "Musterfrau"}, Identity: "identifier2", Password: "pw2",
	})
	s.Require().NoError(err)
	s.True(created)
	s.Equal("Erika,Musterfrau;identifier2;pw2:", s.record("identifier2"))

	created, err = s.fx.Store.EnsureRecord(s.ctx, types.Record{Identity: "identifier2", Password: "other"})
	s.Require().NoError(err)
	s.False(created)
	s.Equal("Erika,Musterfrau;identifier2;pw2:", s.record("identifier2"))
}

func (s *CredentialStoreSuite) TestEnsureRecordRejectsEmptyPassword() {
	_, err := s.fx.Store.EnsureRecord(s.ctx, types.Record{Identity: "identifier3"})
	s.ErrorIs(err, types.ErrEmptyPassword)
}

func (s *CredentialStoreSuite) TestEnsureRecordRejectsAssignedToken() {
	s.Require().Equal(store.StatusOK, s.add("identifier1", "tok1"))
	before := s.fx.Snapshot()

	created, err := s.fx.Store.EnsureRecord(s.ctx, types.Record{
		Identity: "identifier2", Password: "pw2", Tokens: []types.Identifier{"tok2", "tok1"},
	})
	s.ErrorIs(err, store.ErrInvalidRecord)
	s.NotErrorIs(err, store.ErrStoreIO)
	s.False(created)
	s.Equal(before, s.fx.Snapshot())
}

func (s *CredentialStoreSuite) TestEnsureRecordRejectsMalformedTokens() {
	for _, toks := range [][]types.Identifier{{"a:b"}, {"tok3", "tok3"}} {
		_, err := s.fx.Store.EnsureRecord(s.ctx, types.Record{Identity: "identifier2", Password: "pw2", Tokens: toks})
		s.ErrorIs(err, store.ErrInvalidRecord, "tokens %v", toks)
	}
}
