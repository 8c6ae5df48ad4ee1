package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"gatewayd/pkg/logging"
)

// sweepInterval is how often expired tokens are purged from the stores.
const sweepInterval = 60 * time.Second

// TokenStore is the in-memory, thread-safe home for issued access and
// refresh tokens. There is no persistence: a restart invalidates every
// outstanding token.
type TokenStore struct {
	mu        sync.RWMutex
	access    map[string]*AccessToken
	refresh   map[string]*RefreshToken
	stopSweep chan struct{}
}

// NewTokenStore constructs a TokenStore and starts its background sweep.
func NewTokenStore() *TokenStore {
	s := &TokenStore{
		access:    make(map[string]*AccessToken),
		refresh:   make(map[string]*RefreshToken),
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// newOpaqueToken returns a 32-byte random value hex-encoded, per the
// opaque-bearer-token requirement (no JWTs).
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// IssueAccessToken mints and stores a fresh access token, optionally paired
// with a refresh token (pass pairRefresh=true for the password grant).
func (s *TokenStore) IssueAccessToken(clientID, subject string, scopes []string, ttl time.Duration, pairRefresh bool, refreshTTL time.Duration) (*AccessToken, *RefreshToken, error) {
	accessTok, err := newOpaqueToken()
	if err != nil {
		return nil, nil, err
	}

	at := &AccessToken{
		Token:     accessTok,
		ClientID:  clientID,
		Scopes:    scopes,
		Subject:   subject,
		ExpiresAt: time.Now().Add(ttl),
	}

	var rt *RefreshToken
	if pairRefresh {
		refreshTok, err := newOpaqueToken()
		if err != nil {
			return nil, nil, err
		}
		rt = &RefreshToken{
			Token:       refreshTok,
			ClientID:    clientID,
			Scopes:      scopes,
			Subject:     subject,
			AccessToken: accessTok,
			ExpiresAt:   time.Now().Add(refreshTTL),
		}
		at.RefreshToken = refreshTok
	}

	s.mu.Lock()
	s.access[at.Token] = at
	if rt != nil {
		s.refresh[rt.Token] = rt
	}
	s.mu.Unlock()

	logging.Audit(logging.AuditEvent{
		Action:   "token_issue",
		Outcome:  "success",
		ClientID: clientID,
		Target:   logging.TruncateSessionID(at.Token),
	})

	return at, rt, nil
}

// LookupAccessToken returns the token record if it exists and has not
// expired.
func (s *TokenStore) LookupAccessToken(token string) (*AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.access[token]
	if !ok || at.IsExpired() {
		return nil, false
	}
	return at, true
}

// LookupRefreshToken returns the refresh token record if it exists and has
// not expired.
func (s *TokenStore) LookupRefreshToken(token string) (*RefreshToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.refresh[token]
	if !ok || rt.IsExpired() {
		return nil, false
	}
	return rt, true
}

// RotateRefreshToken invalidates the presented refresh token and its paired
// access token, then issues a fresh pair. Rotation on use prevents replay of
// a stolen refresh token past its first use. scopes, if non-nil, replaces
// the token's scope set (used to honor a downscope request on refresh);
// pass nil to carry the original scopes forward unchanged.
func (s *TokenStore) RotateRefreshToken(oldToken string, scopes []string, ttl, refreshTTL time.Duration) (*AccessToken, *RefreshToken, error) {
	s.mu.Lock()
	rt, ok := s.refresh[oldToken]
	if ok {
		delete(s.refresh, oldToken)
		delete(s.access, rt.AccessToken)
	}
	s.mu.Unlock()

	if !ok {
		return nil, nil, &GrantError{Code: "invalid_grant", Description: "unknown refresh token"}
	}

	if scopes == nil {
		scopes = rt.Scopes
	}
	return s.IssueAccessToken(rt.ClientID, rt.Subject, scopes, ttl, true, refreshTTL)
}

// Revoke removes an access token and its paired refresh token, if any.
// Revoking an unknown token is a no-op, matching RFC 7009's idempotency
// requirement.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.access[token]; ok {
		delete(s.access, token)
		if at.RefreshToken != "" {
			delete(s.refresh, at.RefreshToken)
		}
		return
	}
	if rt, ok := s.refresh[token]; ok {
		delete(s.refresh, token)
		delete(s.access, rt.AccessToken)
	}
}

// RevokeAllForClient removes every token owned by a client, used when an
// OAuth client is deleted through the admin API.
func (s *TokenStore) RevokeAllForClient(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for tok, at := range s.access {
		if at.ClientID == clientID {
			delete(s.access, tok)
			count++
		}
	}
	for tok, rt := range s.refresh {
		if rt.ClientID == clientID {
			delete(s.refresh, tok)
		}
	}
	return count
}

func (s *TokenStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *TokenStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for tok, at := range s.access {
		if at.IsExpired() {
			delete(s.access, tok)
			removed++
		}
	}
	for tok, rt := range s.refresh {
		if rt.IsExpired() {
			delete(s.refresh, tok)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("auth", "swept %d expired tokens", removed)
	}
}

// Stop ends the background sweep.
func (s *TokenStore) Stop() {
	close(s.stopSweep)
}
