package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/protocol"
)

// LinkName is the well-known name of the federation service.
const LinkName = "link"

// Link is one federation endpoint: a link service registered on a single
// broker connection. Its dispatch command hands a request over to a sibling
// whose broker serves the target domain.
type Link struct {
	*Service
	group  *LinkGroup
	logger zerolog.Logger
}

// LinkGroup runs one Link per broker connection. Tokens are signed with the
// shared secret, so a peer broker accepts an impersonated caller without
// consulting the broker that issued the token.
type LinkGroup struct {
	links []*Link
}

// NewLinkGroup registers a link service on every client.
func NewLinkGroup(clients []*client.Client, secret []byte) (*LinkGroup, error) {
	g := &LinkGroup{}
	for _, c := range clients {
		s, err := New(c, secret, LinkName)
		if err != nil {
			g.Close()
			return nil, err
		}
		l := &Link{
			Service: s,
			group:   g,
			logger:  log.WithComponent(LinkName).With().Str("endpoint", c.Endpoint()).Logger(),
		}
		s.OnCommand("dispatch", l.dispatch)
		g.links = append(g.links, l)
	}
	return g, nil
}

// Links returns the group's per-connection links.
func (g *LinkGroup) Links() []*Link { return g.links }

// Close shuts every link down.
func (g *LinkGroup) Close() {
	for _, l := range g.links {
		l.Close()
	}
}

// dispatch transmits a request to another broker that serves the target
// domain, impersonating the original caller.
func (l *Link) dispatch(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
	if len(args) < 2 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	target := string(args[0])
	frames := args[1:]

	peer := l.group.peerFor(ctx, l, target)
	if peer == nil {
		return nil, protocol.NewCallError(protocol.CodeNotFound, "No such domain: %s.", target)
	}
	l.logger.Debug().
		Str("target", target).
		Str("source", caller.Domain).
		Str("peer", peer.Client().Endpoint()).
		Msg("dispatching across brokers")
	return peer.Transmit(ctx, target, caller, frames)
}

// peerFor finds another link whose broker currently serves the target.
func (g *LinkGroup) peerFor(ctx context.Context, self *Link, target string) *Link {
	for _, l := range g.links {
		if l == self {
			continue
		}
		available, _, err := l.Query(ctx, target)
		if err == nil && available {
			return l
		}
	}
	return nil
}
