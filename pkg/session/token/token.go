// Package token implements client-side carriers for the session
// identifier: a sealed cookie and a signed JWT. Carriers treat the value
// as an opaque string; the session core never sees transport details.
package token

import (
	"net/http"
	"time"
)

// Carrier reads and writes the client-presented session token.
type Carrier interface {
	// Read extracts the identifier from the request. The bool is false
	// when the token is absent or fails authentication.
	Read(r *http.Request) (string, bool)

	// Write attaches the identifier to the response with the given
	// lifetime.
	Write(w http.ResponseWriter, value string, maxAge time.Duration)

	// Clear instructs the client to drop the token.
	Clear(w http.ResponseWriter)
}

// ParseSameSite maps a config string to http.SameSite. Unknown values fall
// back to Lax.
func ParseSameSite(v string) http.SameSite {
	switch v {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax", "":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteLaxMode
	}
}
