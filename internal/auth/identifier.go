package auth

import (
	"errors"
	"strings"
)

// ErrMalformedUserID is returned by ParseUserID for identifiers that are
// not of the form "@localpart:domain".
var ErrMalformedUserID = errors.New("malformed user id")

// UserID is a parsed "@localpart:domain" identifier.
type UserID struct {
	Localpart string
	Domain    string
}

// ParseUserID splits s on its first ':' into local part and domain.
// The leading '@' is required and both halves must be non-empty.
func ParseUserID(s string) (UserID, error) {
	if !strings.HasPrefix(s, "@") {
		return UserID{}, ErrMalformedUserID
	}
	localpart, domain, ok := strings.Cut(s[1:], ":")
	if !ok || localpart == "" || domain == "" {
		return UserID{}, ErrMalformedUserID
	}
	return UserID{Localpart: localpart, Domain: domain}, nil
}

// String formats the id as "@localpart:domain".
func (u UserID) String() string {
	return "@" + u.Localpart + ":" + u.Domain
}

// Email joins local part and domain into an email-shaped address.
func (u UserID) Email() string {
	return u.Localpart + "@" + u.Domain
}

// GuessLocalpart strips the domain and any "+detail" suffix from address.
func GuessLocalpart(address string) string {
	localpart, _, _ := strings.Cut(address, "@")
	localpart, _, _ = strings.Cut(localpart, "+")
	return localpart
}

// GuessDomain returns appendDomain when set, otherwise the part of address
// after its last '@'. It reports false when neither yields a domain.
func GuessDomain(address, appendDomain string) (string, bool) {
	if appendDomain != "" {
		return appendDomain, true
	}
	i := strings.LastIndex(address, "@")
	if i < 0 || i == len(address)-1 {
		return "", false
	}
	return address[i+1:], true
}

// StripPort removes a trailing ":port" from a server name such as
// "example.com:8448" or "[::1]:8448". Names without a port are returned
// unchanged.
func StripPort(domain string) string {
	i := strings.LastIndex(domain, ":")
	if i < 0 || i == len(domain)-1 {
		return domain
	}
	for _, r := range domain[i+1:] {
		if r < '0' || r > '9' {
			return domain
		}
	}
	host := domain[:i]
	if strings.Contains(host, ":") && !strings.HasSuffix(host, "]") {
		return domain
	}
	return host
}
