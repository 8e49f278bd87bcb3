package broker

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"

	"github.com/zaqqye/relay/internal/metrics"
	"github.com/zaqqye/relay/internal/models"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/security"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/utils"
)

// errDeferred marks commands whose response is produced later by the routing
// layer, not by runCommand.
var errDeferred = errors.New("broker: response deferred")

// runCommand executes one broker-directed command and sends exactly one
// response, unless the command deferred it to the routing layer.
func (b *Broker) runCommand(s *session, id string, rest [][]byte) {
	if len(rest) == 0 {
		s.sendFrames(protocol.ErrorResponse(id, protocol.CodeBadRequest, "Invalid request."))
		return
	}
	command := string(rest[0])
	args := rest[1:]

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("command", command).
				Bytes("stack", debug.Stack()).
				Msg("command handler panicked")
			metrics.BrokerCommandsTotal.WithLabelValues(command, "500").Inc()
			s.sendFrames(protocol.ErrorResponse(id, protocol.CodeInternal, "Internal error."))
		}
	}()

	var result [][]byte
	var err error
	switch command {
	case protocol.CmdRegister:
		result, err = b.cmdRegister(s, args)
	case protocol.CmdUnregister:
		result, err = b.cmdUnregister(s, args)
	case protocol.CmdQuery:
		result, err = b.cmdQuery(args)
	case protocol.CmdTransmit:
		err = b.cmdTransmit(s, id, args)
	default:
		err = protocol.NewCallError(protocol.CodeNotFound, "Unknown command.")
	}

	switch {
	case err == nil:
		metrics.BrokerCommandsTotal.WithLabelValues(command, "200").Inc()
		s.sendFrames(protocol.Response(id, result))
	case errors.Is(err, errDeferred):
		metrics.BrokerCommandsTotal.WithLabelValues(command, "200").Inc()
	default:
		callErr := asCallError(err)
		metrics.BrokerCommandsTotal.WithLabelValues(command, strconv.Itoa(callErr.Code)).Inc()
		if callErr.Code == protocol.CodeInternal {
			s.logger.Error().Err(err).Str("command", command).Msg("command failed")
		}
		s.sendFrames(protocol.ErrorResponse(id, callErr.Code, callErr.Message))
	}
}

func asCallError(err error) *protocol.CallError {
	var callErr *protocol.CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	return protocol.NewCallError(protocol.CodeInternal, "Internal error.")
}

// cmdRegister validates the presented credentials for a domain, issues a
// token for it and binds it to the session. Registering a held domain again
// re-issues the token.
func (b *Broker) cmdRegister(s *session, args [][]byte) ([][]byte, error) {
	if len(args) < 1 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid registration request.")
	}
	domain := string(args[0])
	credentials := args[1:]

	switch {
	case protocol.IsServiceDomain(domain):
		if len(credentials) != 2 {
			return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid credentials.")
		}
		name, _ := protocol.ServiceNameFromDomain(domain)
		if !security.VerifyCredential(b.secret, credentials[0], name, credentials[1]) {
			return nil, protocol.NewCallError(protocol.CodeUnauthorized, "Invalid credentials.")
		}
	case protocol.IsUserDomain(domain):
		if len(credentials) != 1 {
			return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid credentials.")
		}
		if _, err := b.internalRequest(
			protocol.ServiceDomain("authentication"), domain, "",
			"authenticate", credentials,
		); err != nil {
			return nil, err
		}
	default:
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid domain: %s.", domain)
	}

	issued, err := b.issuer.Issue(domain)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.requestTimeout)
	defer cancel()
	record := &models.IssuedToken{
		TokenID:   issued.ID,
		Domain:    domain,
		TokenHash: utils.Fingerprint(issued.Token),
		ExpiresAt: issued.ExpiresAt,
	}
	if err := b.store.RecordToken(ctx, record); err != nil {
		return nil, err
	}

	if first := b.registry.register(s, domain, issued.Token); first {
		b.domainAvailable(domain)
	}
	s.logger.Debug().Str("domain", domain).Msg("domain registered")
	return [][]byte{[]byte(issued.Token)}, nil
}

// cmdUnregister drops one of the session's registrations. Unregistering a
// domain the session does not hold is a no-op.
func (b *Broker) cmdUnregister(s *session, args [][]byte) ([][]byte, error) {
	if len(args) != 1 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	domain := string(args[0])
	if last, held := b.registry.unregister(s, domain); held {
		s.logger.Debug().Str("domain", domain).Msg("domain unregistered")
		if last {
			b.domainUnavailable(domain)
		}
	}
	return nil, nil
}

// cmdQuery reports whether a domain is available and how many instances
// serve it.
func (b *Broker) cmdQuery(args [][]byte) ([][]byte, error) {
	if len(args) != 1 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	count := b.registry.count(string(args[0]))
	available := "0"
	if count > 0 {
		available = "1"
	}
	return [][]byte{[]byte(available), []byte(strconv.Itoa(count))}, nil
}

// cmdTransmit routes a request on behalf of another domain, after verifying
// the impersonated token. The target's response flows straight back to the
// transmitting session under the transmit request's id.
func (b *Broker) cmdTransmit(s *session, id string, args [][]byte) error {
	if len(args) < 4 {
		return protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	target := string(args[0])
	xDomain := string(args[1])
	xToken := string(args[2])
	command := string(args[3])
	cmdArgs := args[4:]

	if len(b.registry.sessionDomains(s)) == 0 {
		return protocol.NewCallError(protocol.CodeForbidden, "Domain not registered.")
	}
	claims, err := b.issuer.Verify(xToken, xDomain)
	if err != nil {
		return protocol.NewCallError(protocol.CodeUnauthorized, "Invalid token.")
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.requestTimeout)
	defer cancel()
	record, err := b.store.TokenByID(ctx, claims.ID)
	switch {
	case err == nil && record.Revoked():
		return protocol.NewCallError(protocol.CodeUnauthorized, "Token was revoked.")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		// Tokens issued by peer brokers are not in the local store;
		// anything else is a store failure.
		return err
	}

	serving, ok := b.registry.pick(target)
	if !ok {
		return protocol.NewCallError(protocol.CodeNotFound, "No such domain: %s.", target)
	}
	req := &pendingRequest{serving: serving, source: s, sourceID: id}
	fwdID := b.pending.add(req, b.requestTimeout)
	serving.sendFrames(protocol.DeliveredRequest(fwdID, target, xDomain, xToken, command, cmdArgs))
	return errDeferred
}
