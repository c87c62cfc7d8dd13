// Package auth signs and verifies the HS256 bearer tokens exchanged with the
// document backend and the local API.
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "movedit"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSecret     = errors.New("auth secret not configured")
)

// Actor is who a token speaks for.
type Actor struct {
	UserID    int64
	CompanyID int64
}

type claims struct {
	jwtlib.RegisteredClaims
	CompanyID int64 `json:"company"`
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a secret is configured. A disabled signer issues no tokens.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

func (s *Signer) Sign(actor Actor) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
			Issuer:    issuer,
		},
		CompanyID: actor.CompanyID,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Signer) Parse(token string) (Actor, error) {
	if !s.Enabled() {
		return Actor{}, ErrNoSecret
	}
	c := &claims{}
	parsed, err := jwtlib.ParseWithClaims(token, c, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(issuer), jwtlib.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}
	sub, err := c.GetSubject()
	if err != nil || sub == "" {
		return Actor{}, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	return Actor{UserID: userID, CompanyID: c.CompanyID}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
