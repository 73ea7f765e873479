package host

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process UserRegistry.
// It backs single-node deployments without a Keycloak realm and the tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	updates  int
	failWith error
}

var _ UserRegistry = (*Memory)(nil)

// NewMemory creates a registry holding accounts.
func NewMemory(accounts ...Account) *Memory {
	m := &Memory{accounts: make(map[string]*Account)}
	for _, a := range accounts {
		m.Put(a)
	}
	return m
}

// Put adds or replaces an account.
func (m *Memory) Put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = a.Username
	}
	acct := a
	m.accounts[a.Username] = &acct
}

// Get returns a copy of the account for uid.
func (m *Memory) Get(uid string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[uid]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Usernames returns every account name, sorted.
func (m *Memory) Usernames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Updates returns how many Update calls changed something.
func (m *Memory) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// FailWith makes every later call return err (nil restores normal operation).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Lookup implements UserRegistry.
func (m *Memory) Lookup(_ context.Context, uid string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	a, ok := m.accounts[uid]
	if !ok {
		return nil, nil
	}
	acct := *a
	return &acct, nil
}

// Update implements UserRegistry.
func (m *Memory) Update(_ context.Context, acct *Account, update AccountUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	a, ok := m.accounts[acct.Username]
	if !ok || update.Empty() {
		return nil
	}
	if update.Email != nil {
		a.Email = *update.Email
	}
	if update.Quota != nil {
		a.Quota = *update.Quota
	}
	m.updates++
	return nil
}
