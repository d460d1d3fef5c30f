package identity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCookieName is the cookie carrying the anonymous user id
	DefaultCookieName = "whosaid_uid"

	defaultCookieMaxAge = 365 * 24 * time.Hour
)

// Anonymous identifies callers by a random UUID kept in a cookie. A caller
// without a valid cookie gets a fresh id.
type Anonymous struct {
	CookieName string
	Secure     bool
	MaxAge     time.Duration
}

// NewAnonymous creates an anonymous cookie provider
func NewAnonymous(cookieName string, secure bool) *Anonymous {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Anonymous{CookieName: cookieName, Secure: secure, MaxAge: defaultCookieMaxAge}
}

// Identify implements Provider
func (a *Anonymous) Identify(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(a.CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String(), nil
		}
	}
	if w == nil {
		return "", ErrUnauthenticated
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     a.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(a.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}
