// Package service hosts the domains that ship with relay: user
// authentication, the arithmetic example and broker federation links. A
// Service is a client proxy for a service/<name> domain whose credentials
// are derived from the shared secret.
package service

import (
	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/security"
)

// Credentials derives registration credentials for a service name: a fresh
// salt and the keyed hash the broker expects.
func Credentials(secret []byte, name string) ([][]byte, error) {
	salt, err := security.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return [][]byte{salt, security.CredentialHash(secret, salt, name)}, nil
}

// Service is a proxy registered under service/<name>.
type Service struct {
	*client.Proxy
	name string
}

// New registers a service domain on the client.
func New(c *client.Client, secret []byte, name string) (*Service, error) {
	credentials, err := Credentials(secret, name)
	if err != nil {
		return nil, err
	}
	p, err := client.NewProxy(c, protocol.ServiceDomain(name), credentials)
	if err != nil {
		return nil, err
	}
	return &Service{Proxy: p, name: name}, nil
}

// Name returns the bare service name, without the domain prefix.
func (s *Service) Name() string { return s.name }
