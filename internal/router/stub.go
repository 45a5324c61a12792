package router

import (
	"context"
	"fmt"
	"sync"
)

// Stub is an in-memory router for offline runs and tests. EnsureUser
// with a client MAC opens an active session, standing in for the
// captive-portal redirect.
type Stub struct {
	mu       sync.Mutex
	users    map[string]string
	sessions []ActiveSession
	blocked  map[string]BlockEntry
	nextID   int
	err      error
}

// NewStub creates an empty stub router.
func NewStub() *Stub {
	return &Stub{users: make(map[string]string), blocked: make(map[string]BlockEntry)}
}

func (s *Stub) fail() error {
	if s.err != nil {
		return Classify(s.err)
	}
	return nil
}

// ActiveSessions returns a copy of the active table.
func (s *Stub) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	return append([]ActiveSession{}, s.sessions...), nil
}

// EnsureUser records the user and opens a session for a known MAC.
func (s *Stub) EnsureUser(ctx context.Context, username, password string, client Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.users[username] = password

	if client.MACAddress == "" {
		return nil
	}
	mac := CanonicalMAC(client.MACAddress)
	for _, a := range s.sessions {
		if a.MACAddress == mac {
			return nil
		}
	}
	s.nextID++
	s.sessions = append(s.sessions, ActiveSession{
		ID:         fmt.Sprintf("*%X", s.nextID),
		User:       username,
		Address:    client.IPAddress,
		MACAddress: mac,
		Uptime:     "0s",
	})
	return nil
}

// AddSession inserts an active session directly.
func (s *Stub) AddSession(a ActiveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.MACAddress = CanonicalMAC(a.MACAddress)
	s.sessions = append(s.sessions, a)
}

// Disconnect removes the session with the given id.
func (s *Stub) Disconnect(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	for i, a := range s.sessions {
		if a.ID == sessionID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return nil
		}
	}
	return Classify(fmt.Errorf("no such item: %s", sessionID))
}

// Block records the device.
func (s *Stub) Block(ctx context.Context, entry BlockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	entry.MACAddress = CanonicalMAC(entry.MACAddress)
	s.blocked[entry.MACAddress] = entry
	return nil
}

// Unblock forgets the device.
func (s *Stub) Unblock(ctx context.Context, macAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	delete(s.blocked, CanonicalMAC(macAddress))
	return nil
}

// TestConnection always succeeds unless a failure is set.
func (s *Stub) TestConnection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail()
}

// Blocked reports whether mac is on the stub block list.
func (s *Stub) Blocked(mac string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[CanonicalMAC(mac)]
	return ok
}

// Password returns the stored hotspot password for username.
func (s *Stub) Password(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[username]
	return p, ok
}

// SetErr sets the failure returned by every operation.
func (s *Stub) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
