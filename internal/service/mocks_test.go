package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/aftras/crm-api/internal/domain"
)

// --- Shared in-memory mocks ---

// fakeCRMStore is an in-memory CRMStore for service tests.
type fakeCRMStore struct {
	mu sync.Mutex

	prospects     map[string]*domain.Prospect
	remote        map[string]*domain.RemoteProspect
	clients       map[string]*domain.Client
	sales         map[string]*domain.Sale
	notifications []*domain.Notification
	accessCode    *domain.AccessCode
	settings      *domain.AppSettings

	failReads  bool
	failNotify bool
}

func newFakeCRMStore() *fakeCRMStore {
	return &fakeCRMStore{
		prospects: map[string]*domain.Prospect{},
		remote:    map[string]*domain.RemoteProspect{},
		clients:   map[string]*domain.Client{},
		sales:     map[string]*domain.Sale{},
	}
}

func (f *fakeCRMStore) readErr() error {
	if f.failReads {
		return &domain.ErrExternalService{Service: "fake"}
	}
	return nil
}

func (f *fakeCRMStore) ListProspects(_ context.Context) ([]domain.Prospect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Prospect, 0, len(f.prospects))
	for _, p := range f.prospects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeCRMStore) ListProspectsByAgent(_ context.Context, agentID string) ([]domain.Prospect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	var out []domain.Prospect
	for _, p := range f.prospects {
		if p.AgentID == agentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeCRMStore) GetProspect(_ context.Context, id string) (*domain.Prospect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prospects[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "prospect", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCRMStore) CreateProspect(_ context.Context, p *domain.Prospect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.prospects[p.ID] = &cp
	return nil
}

func (f *fakeCRMStore) UpdateProspect(_ context.Context, id string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prospects[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "prospect", ID: id}
	}
	if v, ok := updates["status"].(string); ok {
		p.Status = domain.ProspectStatus(v)
	}
	if v, ok := updates["full_name"].(string); ok {
		p.FullName = v
	}
	return nil
}

func (f *fakeCRMStore) DeleteProspect(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prospects, id)
	return nil
}

func (f *fakeCRMStore) ListRemoteProspectsByAgent(_ context.Context, agentID string) ([]domain.RemoteProspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RemoteProspect
	for _, l := range f.remote {
		if l.AgentID == agentID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeCRMStore) GetRemoteProspect(_ context.Context, id string) (*domain.RemoteProspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.remote[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "remote_prospect", ID: id}
	}
	cp := *l
	return &cp, nil
}

func (f *fakeCRMStore) CreateRemoteProspect(_ context.Context, l *domain.RemoteProspect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	f.remote[l.ID] = &cp
	return nil
}

func (f *fakeCRMStore) DeleteRemoteProspect(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remote, id)
	return nil
}

func (f *fakeCRMStore) ListClients(_ context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeCRMStore) ListClientsByAgent(_ context.Context, agentID string) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	var out []domain.Client
	for _, c := range f.clients {
		if c.AgentID == agentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCRMStore) GetClient(_ context.Context, id string) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "client", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCRMStore) CreateClient(_ context.Context, c *domain.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.clients[c.ID] = &cp
	return nil
}

func (f *fakeCRMStore) UpdateClient(_ context.Context, id string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "client", ID: id}
	}
	if v, ok := updates["status"].(string); ok {
		c.Status = domain.ClientStatus(v)
	}
	if v, ok := updates["deletion_reason"].(string); ok {
		c.DeletionReason = v
	}
	return nil
}

func (f *fakeCRMStore) ListSales(_ context.Context) ([]domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(f.sales))
	for _, s := range f.sales {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeCRMStore) ListSalesByAgent(_ context.Context, agentID string) ([]domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	var out []domain.Sale
	for _, s := range f.sales {
		if s.AgentID == agentID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeCRMStore) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCRMStore) CreateSale(_ context.Context, s *domain.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sales[s.ID] = &cp
	return nil
}

func (f *fakeCRMStore) UpdateSale(_ context.Context, id string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	if v, ok := updates["status"].(string); ok {
		s.Status = domain.SaleStatus(v)
	}
	if v, ok := updates["amount"].(float64); ok {
		s.Amount = v
	}
	if v, ok := updates["profit"].(float64); ok {
		s.Profit = v
	}
	if v, ok := updates["commission"].(float64); ok {
		s.Commission = v
	}
	return nil
}

func (f *fakeCRMStore) ListNotifications(_ context.Context, userID string) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeCRMStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotify {
		return &domain.ErrExternalService{Service: "fake"}
	}
	cp := *n
	f.notifications = append(f.notifications, &cp)
	return nil
}

func (f *fakeCRMStore) MarkNotificationRead(_ context.Context, notifID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == notifID {
			n.Read = true
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "notification", ID: notifID}
}

func (f *fakeCRMStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.UserID == userID {
			n.Read = true
		}
	}
	return nil
}

func (f *fakeCRMStore) GetAccessCode(_ context.Context) (*domain.AccessCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	if f.accessCode == nil {
		return nil, nil
	}
	cp := *f.accessCode
	return &cp, nil
}

func (f *fakeCRMStore) UpsertAccessCode(_ context.Context, code *domain.AccessCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *code
	f.accessCode = &cp
	return nil
}

func (f *fakeCRMStore) GetSettings(_ context.Context) (*domain.AppSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr(); err != nil {
		return nil, err
	}
	if f.settings == nil {
		return nil, nil
	}
	cp := *f.settings
	return &cp, nil
}

func (f *fakeCRMStore) UpsertSettings(_ context.Context, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := domain.AppSettings{}
	if f.settings != nil {
		s = *f.settings
	}
	if v, ok := updates["name"].(string); ok {
		s.Name = v
	}
	if v, ok := updates["currency"].(string); ok {
		s.Currency = v
	}
	if v, ok := updates["logo"].(string); ok {
		s.Logo = v
	}
	f.settings = &s
	return nil
}

func (f *fakeCRMStore) notificationsOfType(kind domain.NotificationType) []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.notifications {
		if n.Type == kind {
			out = append(out, *n)
		}
	}
	return out
}

// fakeDirectoryStore is an in-memory DirectoryStore.
type fakeDirectoryStore struct {
	mu    sync.Mutex
	users map[string]*domain.UserProfile
}

func newFakeDirectoryStore() *fakeDirectoryStore {
	return &fakeDirectoryStore{users: map[string]*domain.UserProfile{}}
}

func (f *fakeDirectoryStore) ListUsers(_ context.Context) ([]domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.UserProfile, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeDirectoryStore) GetUser(_ context.Context, id string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	cp := *u
	return &cp, nil
}

func (f *fakeDirectoryStore) GetUserByEmail(_ context.Context, email string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectoryStore) CreateUser(_ context.Context, u *domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeDirectoryStore) UpdateUser(_ context.Context, id string, updates map[string]any) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	if v, ok := updates["status"].(string); ok {
		u.Status = domain.UserStatus(v)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeDirectoryStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

// fakeAuthStore is an in-memory AuthStore.
type fakeAuthStore struct {
	mu         sync.Mutex
	creds      map[string]*domain.AuthCredential
	refresh    map[string]*domain.AuthRefreshToken
	resetCodes map[string]*domain.AuthPasswordResetCode
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		creds:      map[string]*domain.AuthCredential{},
		refresh:    map[string]*domain.AuthRefreshToken{},
		resetCodes: map[string]*domain.AuthPasswordResetCode{},
	}
}

func (f *fakeAuthStore) CreateCredentials(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[userID] = &domain.AuthCredential{ID: userID, UserID: userID, PasswordHash: hash}
	return nil
}

func (f *fakeAuthStore) GetCredentials(_ context.Context, userID string) (*domain.AuthCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "credentials", ID: userID}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeAuthStore) UpdateCredentials(_ context.Context, userID string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return &domain.ErrNotFound{Resource: "credentials", ID: userID}
	}
	if v, ok := updates["password_hash"].(string); ok {
		c.PasswordHash = v
	}
	return nil
}

func (f *fakeAuthStore) DeleteCredentials(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, userID)
	return nil
}

func (f *fakeAuthStore) StoreRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = &domain.AuthRefreshToken{
		ID:        tokenHash,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeAuthStore) GetRefreshToken(_ context.Context, tokenHash string) (*domain.AuthRefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.refresh[tokenHash]
	if !ok || t.Revoked {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeAuthStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.refresh[tokenHash]; ok {
		t.Revoked = true
	}
	return nil
}

func (f *fakeAuthStore) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.refresh {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (f *fakeAuthStore) StoreResetCode(_ context.Context, userID, code string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := userID + ":" + code
	f.resetCodes[id] = &domain.AuthPasswordResetCode{
		ID:        id,
		UserID:    userID,
		Code:      code,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeAuthStore) GetValidResetCode(_ context.Context, userID, code string) (*domain.AuthPasswordResetCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resetCodes[userID+":"+code]
	if !ok || c.Used || time.Now().After(c.ExpiresAt) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeAuthStore) MarkResetCodeUsed(_ context.Context, codeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.resetCodes[codeID]; ok {
		c.Used = true
	}
	return nil
}

// fakeWatcher delivers profile pushes synchronously through push().
type fakeWatcher struct {
	mu        sync.Mutex
	callbacks map[string][]func(*domain.UserProfile, error)
	stops     int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{callbacks: map[string][]func(*domain.UserProfile, error){}}
}

func (f *fakeWatcher) WatchUser(_ context.Context, userID string, onChange func(*domain.UserProfile, error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[userID] = append(f.callbacks[userID], onChange)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stops++
	}
}

// push delivers a profile to every open subscription for the user.
func (f *fakeWatcher) push(userID string, profile *domain.UserProfile, err error) {
	f.mu.Lock()
	cbs := append([]func(*domain.UserProfile, error){}, f.callbacks[userID]...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(profile, err)
	}
}

func (f *fakeWatcher) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
