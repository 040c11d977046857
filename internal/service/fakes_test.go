package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/limiter"
	"github.com/and161185/user-directory/internal/model"
	"github.com/and161185/user-directory/internal/repository"
)

/************ in-memory store ************/

type memStore struct {
	accounts   map[uuid.UUID]model.Account
	roles      map[string]model.Role // by normalized name
	edges      map[uuid.UUID]map[string]bool
	profiles   map[int64]model.DirectoryProfile
	nextUserID int64

	writes   int
	txCount  int
	locks    int
	queries  int
	addErr   error
	rmErr    error
	queryErr error
}

func newMemStore() *memStore {
	s := &memStore{
		accounts: map[uuid.UUID]model.Account{},
		roles:    map[string]model.Role{},
		edges:    map[uuid.UUID]map[string]bool{},
		profiles: map[int64]model.DirectoryProfile{},
	}
	for _, r := range []model.Role{
		{ID: "role-admin-id", Name: "ADMIN", NormalizedName: "ADMIN", Claims: []model.PermissionClaim{
			{Type: "permission", Value: "users.read"}, {Type: "permission", Value: "users.write"}, {Type: "permission", Value: "users.delete"},
		}},
		{ID: "supervisor-role-id", Name: "SUPERVISOR", NormalizedName: "SUPERVISOR", Claims: []model.PermissionClaim{
			{Type: "permission", Value: "users.read"}, {Type: "permission", Value: "users.write"},
		}},
		{ID: "basic-role-id", Name: "USER", NormalizedName: "USER", Claims: []model.PermissionClaim{
			{Type: "permission", Value: "users.read"},
		}},
	} {
		s.roles[r.NormalizedName] = r
	}
	return s
}

func (s *memStore) repos() repository.Repos {
	return repository.Repos{Accounts: fakeAccounts{s}, Roles: fakeRoles{s}, Directory: fakeDirectory{s}}
}

// seedAccount stores an account with the given roles and a profile.
func (s *memStore) seedAccount(username string, roles ...string) (uuid.UUID, int64) {
	id := uuid.Must(uuid.NewV4())
	s.accounts[id] = model.Account{
		ID: id, Username: username, NormalizedUsername: model.Normalize(username),
		Email: username + "@x.io", NormalizedEmail: model.Normalize(username + "@x.io"),
	}
	s.edges[id] = map[string]bool{}
	for _, r := range roles {
		s.edges[id][model.Normalize(r)] = true
	}
	s.nextUserID++
	s.profiles[s.nextUserID] = model.DirectoryProfile{
		UserID: s.nextUserID, AccountID: id, FirstName: "F", LastName: "L", IsActive: true, CreatedDate: time.Now(),
	}
	return id, s.nextUserID
}

func (s *memStore) rolesOf(id uuid.UUID) []string {
	var out []string
	for n := range s.edges[id] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// InTx snapshots the store and restores it when fn fails.
func (s *memStore) InTx(_ context.Context, fn func(repository.Repos) error) error {
	s.txCount++
	snap := s.snapshot()
	if err := fn(s.repos()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	accounts   map[uuid.UUID]model.Account
	edges      map[uuid.UUID]map[string]bool
	profiles   map[int64]model.DirectoryProfile
	nextUserID int64
}

func (s *memStore) snapshot() snapshot {
	sn := snapshot{
		accounts:   map[uuid.UUID]model.Account{},
		edges:      map[uuid.UUID]map[string]bool{},
		profiles:   map[int64]model.DirectoryProfile{},
		nextUserID: s.nextUserID,
	}
	for k, v := range s.accounts {
		sn.accounts[k] = v
	}
	for k, v := range s.edges {
		m := map[string]bool{}
		for r := range v {
			m[r] = true
		}
		sn.edges[k] = m
	}
	for k, v := range s.profiles {
		sn.profiles[k] = v
	}
	return sn
}

func (s *memStore) restore(sn snapshot) {
	s.accounts, s.edges, s.profiles, s.nextUserID = sn.accounts, sn.edges, sn.profiles, sn.nextUserID
}

func (s *memStore) row(p model.DirectoryProfile) model.UserRow {
	a := s.accounts[p.AccountID]
	role := ""
	if rs := s.rolesOf(p.AccountID); len(rs) > 0 {
		role = rs[0]
	}
	return model.UserRow{
		UserID: p.UserID, Username: a.Username, FirstName: p.FirstName, LastName: p.LastName,
		Email: a.Email, IsActive: p.IsActive, CreatedDate: p.CreatedDate, Role: role,
	}
}

/************ accounts ************/

type fakeAccounts struct{ s *memStore }

var _ repository.AccountRepository = fakeAccounts{}

func (f fakeAccounts) Create(_ context.Context, a *model.Account) error {
	for _, x := range f.s.accounts {
		if x.NormalizedUsername == a.NormalizedUsername || x.NormalizedEmail == a.NormalizedEmail {
			return errs.ErrAlreadyExists
		}
	}
	f.s.writes++
	f.s.accounts[a.ID] = *a
	f.s.edges[a.ID] = map[string]bool{}
	return nil
}

func (f fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	a, ok := f.s.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (f fakeAccounts) GetByUsername(_ context.Context, n string) (*model.Account, error) {
	for _, a := range f.s.accounts {
		if a.NormalizedUsername == n {
			c := a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f fakeAccounts) UsernameTaken(_ context.Context, n string, except uuid.UUID) (bool, error) {
	for id, a := range f.s.accounts {
		if a.NormalizedUsername == n && id != except {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAccounts) EmailTaken(_ context.Context, n string, except uuid.UUID) (bool, error) {
	for id, a := range f.s.accounts {
		if a.NormalizedEmail == n && id != except {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAccounts) UpdateIdentity(_ context.Context, a *model.Account) error {
	if _, ok := f.s.accounts[a.ID]; !ok {
		return errs.ErrNotFound
	}
	f.s.writes++
	f.s.accounts[a.ID] = *a
	return nil
}

func (f fakeAccounts) UpdatePassword(_ context.Context, id uuid.UUID, hash, salt []byte, stamp string) error {
	a, ok := f.s.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	f.s.writes++
	a.PwdHash, a.SaltAuth, a.SecurityStamp = hash, salt, stamp
	f.s.accounts[id] = a
	return nil
}

func (f fakeAccounts) Lock(_ context.Context, id uuid.UUID) error {
	if _, ok := f.s.accounts[id]; !ok {
		return errs.ErrNotFound
	}
	f.s.locks++
	return nil
}

/************ roles ************/

type fakeRoles struct{ s *memStore }

var _ repository.RoleRepository = fakeRoles{}

func (f fakeRoles) FindByName(_ context.Context, n string) (*model.Role, error) {
	r, ok := f.s.roles[n]
	if !ok {
		return nil, errs.ErrNotFound
	}
	r.Claims = nil
	return &r, nil
}

func (f fakeRoles) List(context.Context) ([]model.Role, error) {
	var out []model.Role
	for _, r := range f.s.roles {
		r.Claims = nil
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeRoles) Claims(_ context.Context, roleID string) ([]model.PermissionClaim, error) {
	for _, r := range f.s.roles {
		if r.ID == roleID {
			return append([]model.PermissionClaim(nil), r.Claims...), nil
		}
	}
	return nil, nil
}

func (f fakeRoles) RolesOf(_ context.Context, id uuid.UUID) ([]string, error) {
	return f.s.rolesOf(id), nil
}

func (f fakeRoles) AddToRole(_ context.Context, id uuid.UUID, n string) error {
	if f.s.addErr != nil {
		return f.s.addErr
	}
	if _, ok := f.s.roles[n]; !ok {
		return errs.ErrRoleNotFound
	}
	if f.s.edges[id][n] {
		return errs.ErrAlreadyExists
	}
	f.s.writes++
	if f.s.edges[id] == nil {
		f.s.edges[id] = map[string]bool{}
	}
	f.s.edges[id][n] = true
	return nil
}

func (f fakeRoles) RemoveFromRoles(_ context.Context, id uuid.UUID, names []string) error {
	if f.s.rmErr != nil {
		return f.s.rmErr
	}
	f.s.writes++
	for _, n := range names {
		delete(f.s.edges[id], n)
	}
	return nil
}

/************ directory ************/

type fakeDirectory struct{ s *memStore }

var _ repository.DirectoryRepository = fakeDirectory{}

func (f fakeDirectory) Query(_ context.Context, q model.PageQuery) ([]model.UserRow, int, error) {
	f.s.queries++
	if f.s.queryErr != nil {
		return nil, 0, f.s.queryErr
	}
	var all []model.UserRow
	for _, p := range f.s.profiles {
		r := f.s.row(p)
		if s := strings.ToLower(strings.TrimSpace(q.Search)); s != "" &&
			!strings.Contains(strings.ToLower(r.Username), s) && !strings.Contains(strings.ToLower(r.Email), s) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	lo := q.PageIndex * q.PageSize
	if lo > len(all) {
		lo = len(all)
	}
	hi := lo + q.PageSize
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi], len(all), nil
}

func (f fakeDirectory) GetByUserID(_ context.Context, userID int64) (*model.UserRow, error) {
	p, ok := f.s.profiles[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	r := f.s.row(p)
	return &r, nil
}

func (f fakeDirectory) GetByUsername(_ context.Context, n string) (*model.UserRow, error) {
	for _, p := range f.s.profiles {
		if f.s.accounts[p.AccountID].NormalizedUsername == n {
			r := f.s.row(p)
			return &r, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f fakeDirectory) GetByAccountID(_ context.Context, id uuid.UUID) (*model.UserRow, error) {
	for _, p := range f.s.profiles {
		if p.AccountID == id {
			r := f.s.row(p)
			return &r, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f fakeDirectory) AccountIDOf(_ context.Context, userID int64) (uuid.UUID, error) {
	p, ok := f.s.profiles[userID]
	if !ok {
		return uuid.Nil, errs.ErrNotFound
	}
	return p.AccountID, nil
}

func (f fakeDirectory) CreateProfile(_ context.Context, p *model.DirectoryProfile) (int64, error) {
	f.s.writes++
	f.s.nextUserID++
	p.UserID = f.s.nextUserID
	p.CreatedDate = time.Now()
	f.s.profiles[p.UserID] = *p
	return p.UserID, nil
}

func (f fakeDirectory) UpdateProfile(_ context.Context, userID int64, first, last *string, active *bool) error {
	p, ok := f.s.profiles[userID]
	if !ok {
		return errs.ErrNotFound
	}
	f.s.writes++
	if first != nil {
		p.FirstName = *first
	}
	if last != nil {
		p.LastName = *last
	}
	if active != nil {
		p.IsActive = *active
	}
	f.s.profiles[userID] = p
	return nil
}

func (f fakeDirectory) DeleteAccount(_ context.Context, userID int64) error {
	p, ok := f.s.profiles[userID]
	if !ok {
		return errs.ErrNotFound
	}
	f.s.writes++
	delete(f.s.profiles, userID)
	delete(f.s.accounts, p.AccountID)
	delete(f.s.edges, p.AccountID)
	return nil
}

/************ limiter ************/

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
	lastUser     string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, u string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastUser = u
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

/************ token issuer ************/

type fakeIssuer struct {
	got model.ClaimSet
	err error
}

func (f *fakeIssuer) Issue(cs model.ClaimSet) (model.Tokens, error) {
	f.got = cs
	if f.err != nil {
		return model.Tokens{}, f.err
	}
	return model.Tokens{AccessToken: "signed", ExpiresAt: time.Now().Add(15 * time.Minute)}, nil
}
