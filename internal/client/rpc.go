package client

import (
	"context"
	"encoding/json"

	"github.com/zaqqye/relay/internal/protocol"
)

// RPCProxy layers JSON method calls over a Proxy.
type RPCProxy struct {
	*Proxy
}

// NewRPCProxy binds a domain to a client for making RPC calls.
func NewRPCProxy(c *Client, domain string, credentials [][]byte) (*RPCProxy, error) {
	p, err := NewProxy(c, domain, credentials)
	if err != nil {
		return nil, err
	}
	return &RPCProxy{Proxy: p}, nil
}

// Describe asks a remote service for its available methods.
func (r *RPCProxy) Describe(ctx context.Context, target string) (*protocol.RPCDescription, error) {
	result, err := r.Request(ctx, target, protocol.CmdDescribe, nil)
	if err != nil {
		return nil, err
	}
	if len(result) != 1 {
		return nil, protocol.ErrInvalidReply()
	}
	desc := &protocol.RPCDescription{}
	if err := json.Unmarshal(result[0], desc); err != nil {
		return nil, protocol.ErrInvalidReply()
	}
	return desc, nil
}

// Call invokes a method on a remote service with positional arguments and
// returns the raw JSON result.
func (r *RPCProxy) Call(ctx context.Context, target, method string, args ...interface{}) (json.RawMessage, error) {
	return r.call(ctx, target, method, args, nil)
}

// CallNamed invokes a method with named arguments.
func (r *RPCProxy) CallNamed(ctx context.Context, target, method string, kwargs map[string]interface{}) (json.RawMessage, error) {
	return r.call(ctx, target, method, nil, kwargs)
}

func (r *RPCProxy) call(ctx context.Context, target, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}
	result, err := r.Request(ctx, target, protocol.CmdMethodCall, [][]byte{
		[]byte(method), argsJSON, kwargsJSON,
	})
	if err != nil {
		return nil, err
	}
	if len(result) != 1 {
		return nil, protocol.ErrInvalidReply()
	}
	return json.RawMessage(result[0]), nil
}
