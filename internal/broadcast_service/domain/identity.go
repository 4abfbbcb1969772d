package domain

import "strings"

// Role tags an authenticated party. It is resolved once at the boundary.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// ParseRole accepts the role names used in identity tokens.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(s)) {
	case RoleRequester:
		return RoleRequester, true
	case RoleProvider:
		return RoleProvider, true
	}
	return "", false
}

// Identity is the caller behind an HTTP or websocket request.
type Identity struct {
	ID   string
	Role Role
	Name string
}

// Key returns the recipient key under which this identity receives events.
func (i Identity) Key() RecipientKey {
	return RecipientKey(string(i.Role) + ":" + i.ID)
}

// RecipientKey addresses one party across the live channel and push endpoints,
// e.g. "provider:42" or "requester:7".
type RecipientKey string

func ProviderKey(id string) RecipientKey  { return RecipientKey(string(RoleProvider) + ":" + id) }
func RequesterKey(id string) RecipientKey { return RecipientKey(string(RoleRequester) + ":" + id) }
