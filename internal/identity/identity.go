// Package identity resolves the stable user id of an HTTP or WebSocket
// caller. The game core treats the id as opaque.
package identity

import (
	"errors"
	"net/http"
)

// ErrUnauthenticated is returned when a request carries no usable identity
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider yields the user id of a request. Providers may write to w, e.g.
// to issue a cookie on first contact.
type Provider interface {
	Identify(w http.ResponseWriter, r *http.Request) (string, error)
}
