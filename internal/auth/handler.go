package auth

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"gatewayd/pkg/logging"
)

// DiscoveryDocument is a minimal OpenID-style discovery document advertised
// at /.well-known/openid-configuration. response_types_supported is
// deliberately empty: the authorization_code flow is not implemented, and
// the advertised authorization endpoint only returns an error.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	ScopesSupported       []string `json:"scopes_supported"`
}

// Handler wires the Core to HTTP routes.
type Handler struct {
	core   *Core
	issuer string
}

// NewHandler constructs a Handler. issuer is the externally visible base
// URL used in the discovery document; when empty, the base URL of each
// discovery request is used instead.
func NewHandler(core *Core, issuer string) *Handler {
	return &Handler{core: core, issuer: issuer}
}

// ServeToken handles POST /oauth/token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeGrantError(w, &GrantError{Code: "invalid_request", Description: "malformed form body"})
		return
	}

	clientID, clientSecret := clientCredentialsFromRequest(r)
	req := GrantRequest{
		GrantType:    GrantType(r.FormValue("grant_type")),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     r.FormValue("username"),
		Password:     r.FormValue("password"),
		RefreshToken: r.FormValue("refresh_token"),
		Scope:        r.FormValue("scope"),
	}

	resp, err := h.core.Token(req)
	if err != nil {
		writeGrantError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

// ServeRevoke handles POST /oauth/revoke.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	token := r.FormValue("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	h.core.Revoke(token)
	w.WriteHeader(http.StatusOK)
}

// ServeValidate handles POST /oauth/validate, a non-standard introspection
// shortcut used by the admin UI to check a token without consuming it.
// OAuth-issued tokens also report client_id and expires_at (Unix seconds);
// static tokens carry neither.
func (h *Handler) ServeValidate(w http.ResponseWriter, r *http.Request) {
	token := bearerFromRequest(r)
	subject, scopes, ok := h.core.Authenticate(token)

	body := map[string]interface{}{
		"active":  ok,
		"subject": subject,
		"scope":   joinScope(scopes),
	}
	if at, found := h.core.tokens.LookupAccessToken(token); found {
		body["client_id"] = at.ClientID
		body["expires_at"] = at.ExpiresAt.Unix()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// ServeAuthorize handles GET /oauth/authorize. The authorization_code flow
// is not supported; this endpoint exists only to return a clear,
// spec-shaped error instead of a bare 404.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	writeGrantError(w, &GrantError{
		Code:        "unsupported_response_type",
		Description: "the authorization_code flow is not implemented; use client_credentials or password",
	})
}

// ServeDiscovery handles GET /.well-known/openid-configuration. It
// advertises the union of the registered clients' scopes, sorted.
func (h *Handler) ServeDiscovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer
	if issuer == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		issuer = scheme + "://" + r.Host
	}

	scopeSet := make(map[string]bool)
	for _, c := range h.core.clients.List() {
		for _, s := range c.Scopes {
			scopeSet[s] = true
		}
	}
	scopes := make([]string, 0, len(scopeSet))
	for s := range scopeSet {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	doc := DiscoveryDocument{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/oauth/authorize",
		TokenEndpoint:          issuer + "/oauth/token",
		RevocationEndpoint:     issuer + "/oauth/revoke",
		GrantTypesSupported:    []string{"client_credentials", "password", "refresh_token"},
		ResponseTypesSupported: []string{},
		ScopesSupported:        scopes,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// adminClientRequest is the body of POST /admin/oauth/clients.
type adminClientRequest struct {
	ID         string   `json:"id"`
	Secret     string   `json:"secret"`
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	GrantTypes []string `json:"grantTypes"`
}

// ServeAdminAddClient handles POST /admin/oauth/clients.
func (h *Handler) ServeAdminAddClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed json", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Secret == "" {
		http.Error(w, "id and secret are required", http.StatusBadRequest)
		return
	}

	grants := make([]GrantType, 0, len(req.GrantTypes))
	for _, g := range req.GrantTypes {
		grants = append(grants, GrantType(g))
	}

	client := Client{ID: req.ID, Secret: req.Secret, Name: req.Name, Scopes: req.Scopes, GrantTypes: grants}
	if err := h.core.clients.Add(client); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	logging.Audit(logging.AuditEvent{Action: "client_add", Outcome: "success", ClientID: client.ID})
	w.WriteHeader(http.StatusCreated)
}

// ServeAdminDeleteClient handles DELETE /admin/oauth/clients/{id}. It
// revokes every outstanding token belonging to the client before removing
// it, so a deleted client cannot keep using tokens it already holds.
func (h *Handler) ServeAdminDeleteClient(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.core.clients.Remove(clientID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	revoked := h.core.tokens.RevokeAllForClient(clientID)

	logging.Audit(logging.AuditEvent{Action: "client_remove", Outcome: "success", ClientID: clientID, Details: "revoked_tokens=" + strconv.Itoa(revoked)})
	w.WriteHeader(http.StatusNoContent)
}

func clientCredentialsFromRequest(r *http.Request) (id, secret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

func writeGrantError(w http.ResponseWriter, err error) {
	ge, ok := err.(*GrantError)
	if !ok {
		ge = &GrantError{Code: "server_error", Description: err.Error()}
	}

	status := http.StatusBadRequest
	if ge.Code == "invalid_client" {
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             ge.Code,
		"error_description": ge.Description,
	})
}
