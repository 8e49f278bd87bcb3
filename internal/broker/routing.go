package broker

import (
	"strconv"

	"github.com/zaqqye/relay/internal/metrics"
	"github.com/zaqqye/relay/internal/protocol"
)

// dispatch fans one inbound message out to the matching handler. Broker
// commands may block on the store or on other sessions and run in their own
// goroutine; everything else is handled inline on the read pump.
func (b *Broker) dispatch(s *session, env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindPing:
		s.sendFrames(protocol.Pong(env.RequestID))
	case protocol.KindPong:
	case protocol.KindResponse:
		if !b.pending.resolve(s, env.RequestID, env.Rest) {
			s.logger.Debug().Str("request_id", env.RequestID).Msg("response matched no pending request")
		}
	case protocol.KindRequest:
		if len(env.Rest) > 0 && len(env.Rest[0]) == 0 {
			go b.runCommand(s, env.RequestID, env.Rest[1:])
			return
		}
		b.routeRequest(s, env)
	case protocol.KindNotification:
		b.routeNotification(s, env)
	}
}

// routeRequest forwards a request to an instance of its target domain and
// records the pending correlation.
func (b *Broker) routeRequest(s *session, env protocol.Envelope) {
	if len(env.Rest) < 3 {
		b.rejectRequest(s, env.RequestID, protocol.CodeBadRequest, "Invalid request.")
		return
	}
	target := string(env.Rest[0])
	source := string(env.Rest[1])
	command := string(env.Rest[2])
	args := env.Rest[3:]

	tok, held := b.registry.token(s, source)
	if !held {
		b.rejectRequest(s, env.RequestID, protocol.CodeForbidden, "Domain not registered.")
		return
	}
	serving, ok := b.registry.pick(target)
	if !ok {
		b.rejectRequest(s, env.RequestID, protocol.CodeNotFound, "No such domain: "+target+".")
		return
	}

	req := &pendingRequest{serving: serving, source: s, sourceID: env.RequestID}
	id := b.pending.add(req, b.requestTimeout)
	serving.sendFrames(protocol.DeliveredRequest(id, target, source, tok, command, args))
}

func (b *Broker) rejectRequest(s *session, id string, code int, message string) {
	metrics.RoutedRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	s.sendFrames(protocol.ErrorResponse(id, code, message))
}

// routeNotification fans a notification out to every instance of the target
// domain. Notifications are never answered, so failures are only logged.
func (b *Broker) routeNotification(s *session, env protocol.Envelope) {
	if len(env.Rest) < 3 {
		s.logger.Debug().Msg("ignoring malformed notification")
		return
	}
	target := string(env.Rest[0])
	source := string(env.Rest[1])
	typ := string(env.Rest[2])
	args := env.Rest[3:]

	tok, held := b.registry.token(s, source)
	if !held {
		s.logger.Warn().Str("source", source).Msg("dropping notification from unregistered domain")
		return
	}
	b.fanout(target, source, tok, typ, args)
}

// fanout delivers a notification to all instances of a domain.
func (b *Broker) fanout(target, source, token, typ string, args [][]byte) int {
	instances := b.registry.instances(target)
	for _, inst := range instances {
		id := b.pending.nextMessageID()
		inst.sendFrames(protocol.DeliveredNotification(id, target, source, token, typ, args))
	}
	if len(instances) > 0 {
		metrics.NotificationsTotal.Inc()
	}
	return len(instances)
}

// Notify injects a notification without a client session, used by the admin
// API. It returns the number of instances reached.
func (b *Broker) Notify(target, source, typ string, args [][]byte) int {
	return b.fanout(target, source, "", typ, args)
}

// internalRequest routes a request originated by the broker itself (user
// registration delegating to the authentication service) and waits for the
// response.
func (b *Broker) internalRequest(target, source, token, command string, args [][]byte) ([][]byte, error) {
	serving, ok := b.registry.pick(target)
	if !ok {
		return nil, protocol.NewCallError(protocol.CodeNotFound, "No such domain: %s.", target)
	}
	ch := make(chan [][]byte, 1)
	req := &pendingRequest{serving: serving, internal: ch}
	id := b.pending.add(req, b.requestTimeout)
	serving.sendFrames(protocol.DeliveredRequest(id, target, source, token, command, args))
	return protocol.ParseResponse(<-ch)
}
