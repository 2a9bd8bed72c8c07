// pkg/creds/static.go
package creds

import (
	"context"
	"crypto/subtle"

	"tabgate/pkg/apperr"
)

// StaticUser seeds one account for the static verifier.
type StaticUser struct {
	TenantID string
	Username string
	Password string
	ID       string
	Name     string
}

// staticVerifier holds a fixed user list. Used for dev bring-up and tests.
type staticVerifier struct {
	users map[string]StaticUser // tenantID + "\x00" + username
}

func NewStaticVerifier(users []StaticUser) Verifier {
	m := make(map[string]StaticUser, len(users))
	for _, u := range users {
		m[u.TenantID+"\x00"+u.Username] = u
	}
	return &staticVerifier{users: m}
}

func (v *staticVerifier) Verify(ctx context.Context, tenantID, username, password string) (Principal, error) {
	u, ok := v.users[tenantID+"\x00"+username]
	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return Principal{}, apperr.New(apperr.AccessDenied, "invalid credentials")
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return Principal{ID: u.ID, Name: name}, nil
}
