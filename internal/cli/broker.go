package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/zaqqye/relay/internal/api"
	"github.com/zaqqye/relay/internal/broker"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/token"
)

// BrokerCmd runs a broker and its HTTP surface on one or more listen
// addresses.
type BrokerCmd struct {
	Listen []string `short:"l" long:"listen" description:"Address to listen on (repeatable)" value-name:"addr"`

	opts *Options
}

func (c *BrokerCmd) Execute(_ []string) error {
	cfg := setup(c.opts)
	logger := log.WithComponent("cli")

	listen := c.Listen
	if len(listen) == 0 {
		listen = []string{cfg.Listen}
	}

	st, err := buildStore(context.Background(), cfg)
	if err != nil {
		return err
	}

	secret := cfg.SecretBytes()
	b := broker.New(broker.Options{
		Store:          st,
		Issuer:         token.NewIssuer(secret, cfg.TokenTTL()),
		Secret:         secret,
		RequestTimeout: cfg.RequestTimeout(),
	})
	go b.Run()

	if !c.opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.Register(engine, api.Deps{
		Store:    st,
		Broker:   b,
		Secret:   secret,
		TokenTTL: cfg.TokenTTL(),
	})

	g, gctx := errgroup.WithContext(context.Background())
	servers := make([]*http.Server, 0, len(listen))
	for _, addr := range listen {
		srv := &http.Server{Addr: addr, Handler: engine}
		servers = append(servers, srv)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	fmt.Printf("Broker started on %s.\n", strings.Join(listen, ", "))

	select {
	case sig := <-shutdownSignal():
		logger.Info().Str("signal", sig.String()).Msg("stopping broker")
	case <-gctx.Done():
	}

	// Closing the broker first tears down the websocket sessions, which
	// Shutdown would otherwise wait on until its deadline.
	b.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	err = g.Wait()

	fmt.Println("Broker stopped.")
	return err
}
