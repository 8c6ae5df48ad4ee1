package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
)

// ClientRegistry holds the set of known OAuth clients: those loaded from
// the static config document at startup plus any added at runtime through
// the admin API. Config-loaded clients are not removable through the
// admin API; only runtime-added clients are.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]Client
	static  map[string]bool
}

// NewClientRegistry seeds a registry with the statically configured
// clients.
func NewClientRegistry(configured []Client) *ClientRegistry {
	r := &ClientRegistry{
		clients: make(map[string]Client, len(configured)),
		static:  make(map[string]bool, len(configured)),
	}
	for _, c := range configured {
		r.clients[c.ID] = c
		r.static[c.ID] = true
	}
	return r
}

// Lookup returns the client by id.
func (r *ClientRegistry) Lookup(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Authenticate validates a client id/secret pair.
func (r *ClientRegistry) Authenticate(id, secret string) (Client, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return Client{}, &GrantError{Code: "invalid_client", Description: "unknown client"}
	}
	if subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) != 1 {
		return Client{}, &GrantError{Code: "invalid_client", Description: "bad client secret"}
	}
	return c, nil
}

// Add registers a new runtime client through the admin API. Returns an
// error if the id is already taken, whether by a static or runtime client.
func (r *ClientRegistry) Add(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.ID]; exists {
		return fmt.Errorf("client %q already registered", c.ID)
	}
	r.clients[c.ID] = c
	return nil
}

// Remove deletes a runtime-added client. Removing a statically configured
// client is rejected: those are only changed by editing and reloading the
// config document.
func (r *ClientRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.static[id] {
		return fmt.Errorf("client %q is statically configured and cannot be removed via the admin API", id)
	}
	if _, exists := r.clients[id]; !exists {
		return fmt.Errorf("client %q not found", id)
	}
	delete(r.clients, id)
	return nil
}

// List returns every registered client.
func (r *ClientRegistry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
