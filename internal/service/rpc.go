package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/protocol"
)

// MethodHandler serves one RPC method. args holds the merged argument list,
// one JSON value per declared parameter, with a variadic tail flattened in.
type MethodHandler func(ctx context.Context, caller protocol.Caller, args []json.RawMessage) (interface{}, error)

// Param declares an ordinary method parameter.
func Param(name string) protocol.RPCParameter {
	return protocol.RPCParameter{Name: name, Kind: protocol.ParameterPositionalOrKeyword}
}

// Variadic declares a trailing parameter that swallows any surplus
// positional arguments.
func Variadic(name string) protocol.RPCParameter {
	return protocol.RPCParameter{Name: name, Kind: protocol.ParameterVarPositional}
}

type method struct {
	parameters []protocol.RPCParameter
	handler    MethodHandler
}

// RPCService extends Service with a JSON method registry served through the
// describe and method_call commands.
type RPCService struct {
	*Service

	mu      sync.RWMutex
	methods map[string]*method
}

// NewRPC registers a service domain that speaks the RPC command set.
func NewRPC(c *client.Client, secret []byte, name string) (*RPCService, error) {
	s, err := New(c, secret, name)
	if err != nil {
		return nil, err
	}
	r := &RPCService{Service: s, methods: make(map[string]*method)}
	s.OnCommand(protocol.CmdDescribe, r.describe)
	s.OnCommand(protocol.CmdMethodCall, r.methodCall)
	return r, nil
}

// Method registers a handler under a name with its declared parameters. A
// variadic parameter must come last; violating that is a programming error.
func (r *RPCService) Method(name string, handler MethodHandler, parameters ...protocol.RPCParameter) {
	for i, p := range parameters {
		if p.Kind == protocol.ParameterVarPositional && i != len(parameters)-1 {
			panic(fmt.Sprintf("service: method %s declares variadic parameter %s before the end", name, p.Name))
		}
	}
	if parameters == nil {
		parameters = []protocol.RPCParameter{}
	}
	r.mu.Lock()
	r.methods[name] = &method{parameters: parameters, handler: handler}
	r.mu.Unlock()
}

func (r *RPCService) describe(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
	r.mu.RLock()
	desc := protocol.RPCDescription{Methods: make(map[string]protocol.RPCMethod, len(r.methods))}
	for name, m := range r.methods {
		desc.Methods[name] = protocol.RPCMethod{Parameters: m.parameters}
	}
	r.mu.RUnlock()

	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func (r *RPCService) methodCall(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
	if len(args) != 3 {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid request.")
	}
	name := string(args[0])
	var positional []json.RawMessage
	if err := json.Unmarshal(args[1], &positional); err != nil {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
	}
	var named map[string]json.RawMessage
	if err := json.Unmarshal(args[2], &named); err != nil {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
	}

	r.mu.RLock()
	m := r.methods[name]
	r.mu.RUnlock()
	if m == nil {
		return nil, protocol.NewCallError(protocol.CodeNotFound, "No such method.")
	}

	merged, err := mergeArguments(m.parameters, positional, named)
	if err != nil {
		return nil, err
	}
	result, err := m.handler(ctx, caller, merged)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

// mergeArguments lines call arguments up with the declared parameters, call
// style: positionals fill parameters in order, named arguments fill the rest
// by name, a variadic tail takes any surplus positionals.
func mergeArguments(parameters []protocol.RPCParameter, positional []json.RawMessage, named map[string]json.RawMessage) ([]json.RawMessage, error) {
	merged := make([]json.RawMessage, 0, len(positional)+len(named))
	matched := 0
	used := 0
	for _, p := range parameters {
		if p.Kind == protocol.ParameterVarPositional {
			merged = append(merged, positional[used:]...)
			used = len(positional)
			continue
		}
		if used < len(positional) {
			if _, ok := named[p.Name]; ok {
				return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
			}
			merged = append(merged, positional[used])
			used++
			continue
		}
		if value, ok := named[p.Name]; ok {
			merged = append(merged, value)
			matched++
			continue
		}
		if p.Default == nil {
			return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
		}
		fallback, err := json.Marshal(p.Default)
		if err != nil {
			return nil, err
		}
		merged = append(merged, fallback)
	}
	if used < len(positional) || matched < len(named) {
		return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
	}
	return merged, nil
}
