// Package cli implements the relay command line: a broker runner, service
// runners and a small RPC client, sharing one configuration layer.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/config"
	"github.com/zaqqye/relay/internal/log"
)

// Run parses args and executes the selected subcommand. It is separated from
// package main so tests can drive it.
func Run(args []string) error {
	opts := &Options{}
	opts.Init(commandName(args))

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			fmt.Fprintln(os.Stdout, err)
			return nil
		}
		return err
	}
	return nil
}

// commandName returns the first token that is not a flag or a flag value, so
// Init fires even when global flags precede the subcommand.
func commandName(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-f" || a == "--config":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			return a
		}
	}
	return ""
}

// setup configures logging, then loads the configuration. Logging has to
// come first because Load already logs; the file's log_level is applied
// afterwards unless -d pinned debug.
func setup(o *Options) *config.Config {
	level := ""
	if o.Debug {
		level = "debug"
	}
	log.Configure(log.Config{Level: level, Console: true})

	cfg := config.Load(o.Config)
	if o.Debug {
		cfg.LogLevel = "debug"
	} else if cfg.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}
	return cfg
}

// shutdownSignal delivers the first SIGINT or SIGTERM on the returned
// channel. A second signal kills the process without waiting for the
// graceful shutdown to finish.
func shutdownSignal() <-chan os.Signal {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	out := make(chan os.Signal, 1)
	go func() {
		out <- <-sigs
		<-sigs
		fmt.Fprintln(os.Stderr, "forced exit")
		os.Exit(1)
	}()
	return out
}
