package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// CookieConfig configures the cookie carrier.
type CookieConfig struct {
	// Name is the cookie name.
	Name string

	// Key seals the cookie value with XChaCha20-Poly1305 when set. Must be
	// exactly 32 bytes. Nil leaves the value in the clear, relying on the
	// identifier's own unguessability.
	Key []byte

	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

func (c CookieConfig) normalize() CookieConfig {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// CookieCarrier carries the session identifier in a cookie, optionally
// sealed with an AEAD so the client can neither read nor forge it.
type CookieCarrier struct {
	cfg CookieConfig
}

// NewCookieCarrier creates a cookie carrier. It fails if a key of the
// wrong size is supplied.
func NewCookieCarrier(cfg CookieConfig) (*CookieCarrier, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("cookie carrier: name must not be empty")
	}
	if cfg.Key != nil && len(cfg.Key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cookie carrier: key must be %d bytes, got %d",
			chacha20poly1305.KeySize, len(cfg.Key))
	}
	return &CookieCarrier{cfg: cfg.normalize()}, nil
}

// Read returns the identifier from the request cookie, unsealing it when a
// key is configured. A missing, unparseable or tampered cookie reads as
// absent.
func (c *CookieCarrier) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.cfg.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	if c.cfg.Key == nil {
		return cookie.Value, true
	}

	value, err := c.open(cookie.Value)
	if err != nil {
		return "", false
	}
	return value, true
}

// Write sets the session cookie.
func (c *CookieCarrier) Write(w http.ResponseWriter, value string, maxAge time.Duration) {
	if c.cfg.Key != nil {
		sealed, err := c.seal(value)
		if err != nil {
			// rand failure; better an absent cookie than a forgeable one
			return
		}
		value = sealed
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   c.cfg.Secure,
		HttpOnly: c.cfg.HTTPOnly,
		SameSite: c.cfg.SameSite,
	})
}

// Clear expires the session cookie.
func (c *CookieCarrier) Clear(w http.ResponseWriter) {
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

// seal encrypts value as nonce||ciphertext, base64url encoded.
func (c *CookieCarrier) seal(value string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("creating cookie cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating cookie nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open reverses seal, authenticating the ciphertext.
func (c *CookieCarrier) open(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding cookie value: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("creating cookie cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("cookie value too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("opening cookie value: %w", err)
	}
	return string(plain), nil
}

// Verify interface compliance.
var _ Carrier = (*CookieCarrier)(nil)
