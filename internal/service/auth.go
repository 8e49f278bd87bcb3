package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/utils"
)

// AuthenticationName is the well-known name of the authentication service.
// The broker delegates user registrations to service/<AuthenticationName>.
const AuthenticationName = "authentication"

// Authentication answers the broker's password checks for user domains
// against the user store.
type Authentication struct {
	*Service
	store  store.Store
	logger zerolog.Logger
}

// NewAuthentication registers the authentication service on the client.
func NewAuthentication(c *client.Client, secret []byte, st store.Store) (*Authentication, error) {
	s, err := New(c, secret, AuthenticationName)
	if err != nil {
		return nil, err
	}
	a := &Authentication{
		Service: s,
		store:   st,
		logger:  log.WithComponent(AuthenticationName),
	}
	s.OnCommand("authenticate", a.authenticate)
	return a, nil
}

// authenticate checks the caller's password. The username is the caller's
// own domain, so a user can only ever authenticate as themselves.
func (a *Authentication) authenticate(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
	if len(args) != 1 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	username := caller.Username()
	if username == "" {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid domain: %s.", caller.Domain)
	}

	user, err := a.store.UserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.logger.Warn().Str("domain", caller.Domain).Msg("authentication failed: unknown username")
		return nil, protocol.NewCallError(protocol.CodeUnauthorized, "Unknown username.")
	case err != nil:
		return nil, err
	}
	if !user.Active {
		a.logger.Warn().Str("domain", caller.Domain).Msg("authentication failed: user is disabled")
		return nil, protocol.NewCallError(protocol.CodeForbidden, "User is disabled.")
	}
	if !utils.CheckPassword(user.Password, string(args[0])) {
		a.logger.Warn().Str("domain", caller.Domain).Msg("authentication failed: invalid password")
		return nil, protocol.NewCallError(protocol.CodeUnauthorized, "Invalid password.")
	}
	a.logger.Debug().Str("domain", caller.Domain).Msg("authentication succeeded")
	return [][]byte{{}}, nil
}
