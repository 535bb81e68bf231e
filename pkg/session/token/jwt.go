package token

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT carrier.
type JWTConfig struct {
	// Name is the cookie the token travels in. Read also accepts an
	// Authorization bearer token for non-browser clients.
	Name string

	// Key is the HS256 signing secret.
	Key []byte

	// Issuer is stamped into and required of every token.
	Issuer string

	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// JWTCarrier carries the session identifier as the subject of a signed
// JWT. Tokens are stateless on the client; the session record itself stays
// server-side.
type JWTCarrier struct {
	cfg JWTConfig
}

// NewJWTCarrier creates a JWT carrier.
func NewJWTCarrier(cfg JWTConfig) (*JWTCarrier, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("jwt carrier: name must not be empty")
	}
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("jwt carrier: key must not be empty")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &JWTCarrier{cfg: cfg}, nil
}

// Read returns the identifier from a valid token found in the cookie or
// the Authorization header. Invalid or expired tokens read as absent.
func (c *JWTCarrier) Read(r *http.Request) (string, bool) {
	raw := ""
	if cookie, err := r.Cookie(c.cfg.Name); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if raw == "" {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.cfg.Key, nil
	}, opts...)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// Write signs a fresh token for the identifier and sets it as a cookie.
func (c *JWTCarrier) Write(w http.ResponseWriter, value string, maxAge time.Duration) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   value,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.Key)
	if err != nil {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    signed,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   c.cfg.Secure,
		HttpOnly: c.cfg.HTTPOnly,
		SameSite: c.cfg.SameSite,
	})
}

// Clear expires the token cookie.
func (c *JWTCarrier) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   -1,
		Secure:   c.cfg.Secure,
		HttpOnly: c.cfg.HTTPOnly,
		SameSite: c.cfg.SameSite,
	})
}

// Verify interface compliance.
var _ Carrier = (*JWTCarrier)(nil)
