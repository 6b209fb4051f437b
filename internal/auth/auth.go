// Package auth provides Splunk SOAR authentication.
package auth

import (
	"net/http"
	"strings"
)

// Mode identifies how a request is authenticated.
type Mode int

const (
	ModeNone Mode = iota
	ModeBasic
	ModeToken
	ModeSession
)

// Credentials holds SOAR authentication material. Exactly one mode applies.
type Credentials struct {
	Username string
	Password string
	Token    string

	// CSRFToken is sent with pre-authenticated session clients, whose
	// cookies live in the caller's http.Client jar.
	CSRFToken string
	Session   bool
}

// Mode reports which authentication scheme the credentials select.
// A token wins over basic credentials.
func (c *Credentials) Mode() Mode {
	switch {
	case c == nil:
		return ModeNone
	case c.Token != "":
		return ModeToken
	case c.Username != "" && c.Password != "":
		return ModeBasic
	case c.Session:
		return ModeSession
	default:
		return ModeNone
	}
}

// Apply adds authentication headers to an HTTP request.
func (c *Credentials) Apply(req *http.Request, restURL string) {
	switch c.Mode() {
	case ModeToken:
		req.Header.Set("ph-auth-token", c.Token)
	case ModeBasic:
		req.SetBasicAuth(c.Username, c.Password)
	case ModeSession:
		if c.CSRFToken != "" {
			req.Header.Set("X-CSRFToken", c.CSRFToken)
		}
		req.Header.Set("Referer", strings.TrimSuffix(restURL, "/"))
	}
}

// Valid reports whether credentials are configured.
func (c *Credentials) Valid() bool {
	return c.Mode() != ModeNone
}

// Partial reports whether only one half of a username/password pair is set.
func (c *Credentials) Partial() bool {
	if c == nil {
		return false
	}
	return (c.Username == "") != (c.Password == "")
}
