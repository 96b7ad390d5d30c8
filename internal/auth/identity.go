package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role values accepted by the console.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Permission names shared with the web admin.
const (
	PermChatSupport    = "chat_support"
	PermManageTaxonomy = "manage_taxonomy"
	PermManageStaff    = "manage_staff"
	PermViewStatistics = "view_statistics"
)

var knownPermissions = []string{PermChatSupport, PermManageTaxonomy, PermManageStaff, PermViewStatistics}

// Permissions staff members do not hold. Admins hold every permission.
var staffDenied = map[string]bool{
	PermManageTaxonomy: true,
	PermManageStaff:    true,
	PermViewStatistics: true,
}

var (
	ErrNoToken      = errors.New("not logged in")
	ErrForbidden    = errors.New("account is not admin or staff")
	ErrTokenExpired = errors.New("session token expired")
	ErrMalformed    = errors.New("token is not a readable JWT")
)

// Identity is the signed-in staff member.
type Identity struct {
	ID       string    `json:"id,omitempty"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	Expires  time.Time `json:"expires,omitempty"`
}

// Key is the id announced on the event stream: the user id, else the username.
func (i Identity) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Username
}

// Label is a human readable name for the identity.
func (i Identity) Label() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	}
	return i.ID
}

func (i Identity) IsAdmin() bool { return strings.EqualFold(i.Role, RoleAdmin) }
func (i Identity) IsStaff() bool { return strings.EqualFold(i.Role, RoleStaff) }

// HasPermission reports whether the identity may use the named permission.
func (i Identity) HasPermission(perm string) bool {
	if i.IsAdmin() {
		return true
	}
	if i.IsStaff() {
		return !staffDenied[perm]
	}
	return false
}

// Permissions lists the known permissions the identity holds.
func (i Identity) Permissions() []string {
	var held []string
	for _, p := range knownPermissions {
		if i.HasPermission(p) {
			held = append(held, p)
		}
	}
	return held
}

// Expired reports whether the token carried an expiry that has passed.
func (i Identity) Expired(now time.Time) bool {
	return !i.Expires.IsZero() && !now.Before(i.Expires)
}

// IdentityFromToken reads identity claims from a JWT without verifying the
// signature. The server verifies every request; the console only needs the
// claims to gate access and to announce itself on the stream.
func IdentityFromToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("auth.IdentityFromToken: %w: %v", ErrMalformed, err)
	}

	id := Identity{
		ID:       claimString(claims, "id", "_id", "user_id", "sub"),
		Username: claimString(claims, "username", "name"),
		Email:    claimString(claims, "email"),
		Role:     claimRole(claims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Expires = exp.Time
	}
	return id, nil
}

// Authorize gates console access: a token must be present, unexpired, and
// carry the chat support permission, which admins and staff hold.
func Authorize(c Credentials, now time.Time) error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrNoToken
	}
	if c.Identity.Expired(now) {
		return ErrTokenExpired
	}
	if !c.Identity.HasPermission(PermChatSupport) {
		return ErrForbidden
	}
	return nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func claimRole(claims jwt.MapClaims) string {
	for _, k := range []string{"role", "roles"} {
		switch v := claims[k].(type) {
		case string:
			if r := strings.ToLower(strings.TrimSpace(v)); r != "" {
				return r
			}
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					continue
				}
				r := strings.ToLower(strings.TrimSpace(s))
				if r == RoleAdmin || r == RoleStaff {
					return r
				}
			}
		}
	}
	return ""
}
