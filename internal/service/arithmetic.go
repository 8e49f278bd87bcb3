package service

import (
	"context"
	"encoding/json"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/protocol"
)

// ArithmeticName is the well-known name of the arithmetic service.
const ArithmeticName = "arithmetic"

// Arithmetic is the example RPC service. It exposes a single sum method over
// JSON numbers.
type Arithmetic struct {
	*RPCService
}

// NewArithmetic registers the arithmetic service on the client.
func NewArithmetic(c *client.Client, secret []byte) (*Arithmetic, error) {
	r, err := NewRPC(c, secret, ArithmeticName)
	if err != nil {
		return nil, err
	}
	a := &Arithmetic{RPCService: r}
	r.Method("sum", a.sum, Variadic("values"))
	return a, nil
}

func (a *Arithmetic) sum(ctx context.Context, caller protocol.Caller, args []json.RawMessage) (interface{}, error) {
	total := 0.0
	for _, raw := range args {
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, protocol.NewCallError(protocol.CodeBadRequest, "Invalid arguments.")
		}
		total += value
	}
	return total, nil
}
