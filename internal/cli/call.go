package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/service"
)

// CallCmd registers a throwaway service identity, calls one method on a
// remote RPC service and prints the JSON result. Without a method it prints
// the service description instead.
type CallCmd struct {
	Connect string `short:"c" long:"connect" description:"Broker endpoint to connect to" value-name:"endpoint"`
	Name    string `short:"n" long:"name" description:"Service name to register as" default:"cli"`
	Timeout int    `short:"t" long:"timeout" description:"Seconds to wait for the call" default:"30"`

	Args struct {
		Target    string   `positional-arg-name:"target" required:"yes" description:"Target domain or service name"`
		Method    string   `positional-arg-name:"method" description:"Method to call"`
		Arguments []string `positional-arg-name:"argument" description:"JSON-encoded arguments"`
	} `positional-args:"yes"`

	opts *Options
}

func (c *CallCmd) Execute(_ []string) error {
	cfg := setup(c.opts)

	connect := c.Connect
	if connect == "" {
		connect = cfg.Connect[0]
	}
	target := c.Args.Target
	if !strings.Contains(target, "/") {
		target = protocol.ServiceDomain(target)
	}

	secret := cfg.SecretBytes()
	creds, err := service.Credentials(secret, c.Name)
	if err != nil {
		return err
	}

	cl := client.New(connect)
	defer cl.Close()

	rpc, err := client.NewRPCProxy(cl, protocol.ServiceDomain(c.Name), creds)
	if err != nil {
		return err
	}
	defer rpc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second)
	defer cancel()
	if err := rpc.WaitRegistered(ctx); err != nil {
		return fmt.Errorf("register %s: %w", rpc.Domain(), err)
	}

	if c.Args.Method == "" {
		desc, err := rpc.Describe(ctx, target)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	args := make([]interface{}, 0, len(c.Args.Arguments))
	for _, raw := range c.Args.Arguments {
		args = append(args, parseArgument(raw))
	}

	result, err := rpc.Call(ctx, target, c.Args.Method, args...)
	if err != nil {
		return err
	}
	fmt.Println(string(result))
	return nil
}

// parseArgument decodes raw as JSON, falling back to the literal string so
// bare words do not need shell-level quoting.
func parseArgument(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
