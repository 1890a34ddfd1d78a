// Package model defines value types shared by the client core.
package model

import "time"

// User is the cached account record returned by the server.
// The server owns the ID format, so it stays an opaque string.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Nickname  string   `json:"nickname,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// TokenInfo is the transient token payload returned by login, register
// and refresh. It is decomposed into credential-store entries on save and
// never persisted as a whole.
type TokenInfo struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"` // seconds
	TokenType    string `json:"tokenType,omitempty"`
}

// LoginResult is the body of successful login/register responses.
type LoginResult struct {
	User  User      `json:"user"`
	Token TokenInfo `json:"token"`
}

// Credentials are the login request parameters.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterParams are the registration request parameters.
type RegisterParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ResetPasswordParams identify the account by email or phone plus a
// verification code.
type ResetPasswordParams struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// SessionStatus is the externally observed authentication state.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusLoading
	StatusAuthenticated
	StatusUnauthenticated
)

// String returns a stable name for logs.
func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Session is a snapshot of the in-memory auth state. User and AccessToken
// are set iff Status is StatusAuthenticated (best effort: a failed
// mid-flight refresh may transiently violate this before cleanup).
type Session struct {
	Status      SessionStatus
	User        *User
	AccessToken string
}

// ExpireAt derives the access token deadline from ExpiresIn relative to
// now. The zero time means the server provided no lifetime.
func (t TokenInfo) ExpireAt(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}
