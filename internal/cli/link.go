package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/service"
)

// LinkCmd connects to several brokers and bridges requests between their
// domains.
type LinkCmd struct {
	Connect []string `short:"c" long:"connect" description:"Broker endpoint to connect to (repeatable)" value-name:"endpoint"`

	opts *Options
}

func (c *LinkCmd) Execute(_ []string) error {
	cfg := setup(c.opts)
	logger := log.WithComponent("cli")

	connect := c.Connect
	if len(connect) == 0 {
		connect = cfg.Connect
	}
	if len(connect) < 2 {
		return errors.New("link needs at least two broker endpoints")
	}

	clients := make([]*client.Client, 0, len(connect))
	for _, endpoint := range connect {
		clients = append(clients, client.New(endpoint))
	}

	group, err := service.NewLinkGroup(clients, cfg.SecretBytes())
	if err != nil {
		for _, cl := range clients {
			cl.Close()
		}
		return err
	}

	fmt.Printf("Link started across %s.\n", strings.Join(connect, ", "))

	sig := <-shutdownSignal()
	logger.Info().Str("signal", sig.String()).Msg("stopping link")

	group.Close()
	for _, cl := range clients {
		cl.Close()
	}

	fmt.Println("Link stopped.")
	return nil
}
