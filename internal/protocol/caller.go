package protocol

// Caller identifies the originator of a delivered request or notification:
// its domain and the token it registered under.
type Caller struct {
	Domain string
	Token  string
}

func (c Caller) String() string { return c.Domain }

// Registered reports whether the caller holds a token.
func (c Caller) Registered() bool { return c.Token != "" }

// IsUser reports whether the caller is a user domain.
func (c Caller) IsUser() bool { return IsUserDomain(c.Domain) }

// IsService reports whether the caller is a service domain.
func (c Caller) IsService() bool { return IsServiceDomain(c.Domain) }

// Username returns the caller's username, or "" for non-user domains.
func (c Caller) Username() string {
	name, _ := UsernameFromDomain(c.Domain)
	return name
}

// ServiceName returns the caller's service name, or "" for non-service
// domains.
func (c Caller) ServiceName() string {
	name, _ := ServiceNameFromDomain(c.Domain)
	return name
}
