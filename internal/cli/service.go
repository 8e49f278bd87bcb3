package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/service"
	"github.com/zaqqye/relay/internal/store"
)

type closer interface {
	Close()
}

// ServiceCmd connects one client to a broker and hosts the named services on
// it. Names that fail to load are skipped with a warning; if none load the
// command gives up.
type ServiceCmd struct {
	Connect string `short:"c" long:"connect" description:"Broker endpoint to connect to" value-name:"endpoint"`

	Args struct {
		Names []string `positional-arg-name:"name" description:"Service names to host"`
	} `positional-args:"yes"`

	opts *Options
}

func (c *ServiceCmd) Execute(_ []string) error {
	cfg := setup(c.opts)
	logger := log.WithComponent("cli")

	connect := c.Connect
	if connect == "" {
		connect = cfg.Connect[0]
	}
	secret := cfg.SecretBytes()

	// The store only comes up when a hosted service needs one.
	var st store.Store
	storeFor := func() (store.Store, error) {
		if st == nil {
			var err error
			if st, err = buildStore(context.Background(), cfg); err != nil {
				return nil, err
			}
		}
		return st, nil
	}

	cl := client.New(connect)

	var services []closer
	var registered []string
	for _, name := range c.Args.Names {
		var (
			svc closer
			err error
		)
		switch name {
		case service.AuthenticationName:
			var s store.Store
			if s, err = storeFor(); err == nil {
				svc, err = service.NewAuthentication(cl, secret, s)
			}
		case service.ArithmeticName:
			svc, err = service.NewArithmetic(cl, secret)
		default:
			err = errors.New("unknown service name")
		}
		if err != nil {
			logger.Warn().Err(err).Str("name", name).Msg("unable to load service")
			continue
		}
		services = append(services, svc)
		registered = append(registered, name)
	}

	if len(services) == 0 {
		cl.Close()
		return errors.New("no services were registered")
	}

	fmt.Printf("Service(s) %s started and connected to %s.\n",
		strings.Join(registered, ", "), connect)

	sig := <-shutdownSignal()
	logger.Info().Str("signal", sig.String()).Msg("stopping services")

	for _, svc := range services {
		svc.Close()
	}
	cl.Close()

	fmt.Println("Service stopped.")
	return nil
}
