package protocol

import "strings"

// Domains name the principals that register with a broker. Users live under
// user/<name>, services under service/<name>.
const (
	DomainSeparator     = "/"
	UserDomainPrefix    = "user"
	ServiceDomainPrefix = "service"
)

// UserDomain fabricates the domain for a username.
func UserDomain(username string) string {
	return UserDomainPrefix + DomainSeparator + username
}

// ServiceDomain fabricates the domain for a service name.
func ServiceDomain(name string) string {
	return ServiceDomainPrefix + DomainSeparator + name
}

// UsernameFromDomain extracts the username from a user domain. ok is false
// when the domain is not a user domain.
func UsernameFromDomain(domain string) (string, bool) {
	return strings.CutPrefix(domain, UserDomainPrefix+DomainSeparator)
}

// ServiceNameFromDomain extracts the service name from a service domain.
func ServiceNameFromDomain(domain string) (string, bool) {
	return strings.CutPrefix(domain, ServiceDomainPrefix+DomainSeparator)
}

// IsUserDomain reports whether domain belongs to a user.
func IsUserDomain(domain string) bool {
	_, ok := UsernameFromDomain(domain)
	return ok
}

// IsServiceDomain reports whether domain belongs to a service.
func IsServiceDomain(domain string) bool {
	_, ok := ServiceNameFromDomain(domain)
	return ok
}
