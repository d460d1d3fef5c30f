package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// ShareLink carries everything needed to join a room out of band
type ShareLink struct {
	Code     string `json:"code"`
	Passcode string `json:"passcode"`
}

// URL encodes the link as ?room=CODE&passcode=PASS on top of base
func (s ShareLink) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("room", s.Code)
	q.Set("passcode", s.Passcode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseShareLink extracts the join parameters from a share URL
func ParseShareLink(raw string) (ShareLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ShareLink{}, Wrap(ErrInvalidArgument, err)
	}
	q := u.Query()
	link := ShareLink{
		Code:     strings.ToUpper(strings.TrimSpace(q.Get("room"))),
		Passcode: strings.TrimSpace(q.Get("passcode")),
	}
	if link.Code == "" || link.Passcode == "" {
		return ShareLink{}, Errorf(ErrInvalidArgument, "share link is missing room or passcode")
	}
	return link, nil
}
