package transport

import "sync"

type scope struct {
	mu        sync.RWMutex
	accountID string
	token     string
}

func newScope(accountID, token string) *scope {
	return &scope{accountID: accountID, token: token}
}

func (s *scope) get() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID, s.token
}

func (s *scope) set(accountID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountID, s.token = accountID, token
}
