package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parnexcodes/droppush/internal/logging"
)

var (
	ErrNotClaimed    = errors.New("portal not claimed")
	ErrSessionClosed = errors.New("portal session closed")
)

type sessionState int

const (
	stateUnclaimed sessionState = iota
	stateClaimed
	stateClosed
)

// Session is a claimed (or claimable) portal. The portal ID never changes;
// everything else is set once by a successful claim.
type Session struct {
	client   *Client
	portalID string

	claimMu sync.Mutex

	mu         sync.RWMutex
	state      sessionState
	token      string
	expiresAt  time.Time
	expiresRaw string
	policy     Policy
	reusable   bool
}

// NewSession creates an unclaimed session for portalID
func NewSession(client *Client, portalID string) *Session {
	return &Session{
		client:   client,
		portalID: portalID,
		policy:   PolicyOverwrite,
		reusable: true,
	}
}

// PortalID returns the portal this session addresses
func (s *Session) PortalID() string {
	return s.portalID
}

// Client returns the underlying HTTP client
func (s *Session) Client() *Client {
	return s.client
}

// Claim obtains the client token. It performs exactly one exchange and never
// retries; a session that is already claimed is not claimed again.
func (s *Session) Claim(ctx context.Context) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	switch s.currentState() {
	case stateClaimed:
		return nil
	case stateClosed:
		return ErrSessionClosed
	}

	var resp ClaimResponse
	err := s.client.PostJSON(ctx, StageClaim, s.client.portalURL(s.portalID, "claim"), "", struct{}{}, &resp)
	if err == nil && resp.ClientToken == "" {
		err = NewPortalError(StageClaim, ErrorTypeAPI, 0, "claim response missing client token", nil)
	}
	if err != nil {
		logging.PortalClaim(s.portalID, "", false, err)
		return err
	}

	reusable := true
	if resp.Reusable != nil {
		reusable = *resp.Reusable
	}
	expiresAt, parseErr := time.Parse(time.RFC3339, resp.ExpiresAt)
	if parseErr != nil {
		expiresAt = time.Time{}
	}

	s.mu.Lock()
	s.state = stateClaimed
	s.token = resp.ClientToken
	s.expiresAt = expiresAt
	s.expiresRaw = resp.ExpiresAt
	s.policy = resp.Policy.Default()
	s.reusable = reusable
	s.mu.Unlock()

	logging.PortalClaim(s.portalID, string(resp.Policy.Default()), reusable, nil)
	return nil
}

// Close ends the portal. A failed close leaves the session claimed.
func (s *Session) Close(ctx context.Context) error {
	token, err := s.requireToken()
	if err != nil {
		return err
	}

	err = s.client.PostJSON(ctx, StageClose, s.client.portalURL(s.portalID, "close"), token, struct{}{}, nil)
	logging.PortalClose(s.portalID, err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	return nil
}

// Info reads the public portal description; it needs no token
func (s *Session) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := s.client.GetJSON(ctx, StageInfo, s.client.portalURL(s.portalID, "info"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Session) currentState() sessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) requireToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case stateUnclaimed:
		return "", ErrNotClaimed
	case stateClosed:
		return "", ErrSessionClosed
	}
	return s.token, nil
}

// Claimed reports whether a claim succeeded and the portal is still open
func (s *Session) Claimed() bool {
	return s.currentState() == stateClaimed
}

// Closed reports whether the portal was closed through this session
func (s *Session) Closed() bool {
	return s.currentState() == stateClosed
}

// Token returns the client token, empty before claim
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt is advisory only and never enforced client-side
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// ExpiresAtRaw returns expires_at exactly as the server sent it
func (s *Session) ExpiresAtRaw() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresRaw
}

// Policy returns the conflict policy granted at claim time
func (s *Session) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Reusable reports whether the portal stays open after the queue drains
func (s *Session) Reusable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reusable
}

func (s *Session) String() string {
	return fmt.Sprintf("portal %s", s.portalID)
}
