// Package identity turns an opaque bearer credential into the user id and
// display name the chat core needs.
package identity

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrIdentityUnavailable = errors.New("identity unavailable")

// Identity is immutable for the lifetime of the credential it came from.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
}

func (i Identity) Valid() bool { return strings.TrimSpace(i.UserID) != "" }

// Claims mirrors the token issued by the quiz backend.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver decodes credentials. With an empty Secret the token is decoded
// without verification, which is all the browser client ever did; the
// backend remains the authority.
type Resolver struct {
	secret []byte
	now    func() time.Time

	mu        sync.Mutex
	lastToken string
	last      Identity
}

func NewResolver(secret string) *Resolver {
	r := &Resolver{now: time.Now}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// Resolve returns the identity carried by token. The result is cached until
// a different token is presented.
func (r *Resolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrIdentityUnavailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if token == r.lastToken && r.last.Valid() {
		return r.last, nil
	}

	claims, err := r.decode(token)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		UserID:      strings.TrimSpace(claims.UserID),
		DisplayName: strings.TrimSpace(claims.Username),
		Role:        claims.Role,
	}
	if id.UserID == "" {
		id.UserID = strings.TrimSpace(claims.Subject)
	}
	if !id.Valid() {
		return Identity{}, ErrIdentityUnavailable
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}

	r.lastToken = token
	r.last = id
	return id, nil
}

func (r *Resolver) decode(token string) (*Claims, error) {
	claims := &Claims{}
	if r.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, errors.Join(ErrIdentityUnavailable, err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrIdentityUnavailable
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now))
	if err != nil {
		return nil, errors.Join(ErrIdentityUnavailable, err)
	}
	return claims, nil
}

// Sign mints an HS256 token for id. Used by the CLI and tests to stand in
// for the quiz backend's login endpoint.
func Sign(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.DisplayName,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
