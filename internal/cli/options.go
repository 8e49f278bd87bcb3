package cli

// Options is the root of the command line. Struct tags are interpreted by
// github.com/jessevdk/go-flags; the global flags apply to every subcommand.
type Options struct {
	Debug  bool   `short:"d" long:"debug" description:"Enable debug output"`
	Config string `short:"f" long:"config" description:"Configuration YAML path"`

	Broker  *BrokerCmd  `command:"broker"  description:"Run a broker"`
	Service *ServiceCmd `command:"service" description:"Run one or more services against a broker"`
	Link    *LinkCmd    `command:"link"    description:"Bridge domains across several brokers"`
	Call    *CallCmd    `command:"call"    description:"Call a method on a remote service"`
	Version *VersionCmd `command:"version" description:"Print the build version"`
}

// Init instantiates the subcommand referenced by the first positional
// argument so go-flags can populate its fields, wiring the back-reference
// each Execute needs to reach the global flags.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "broker":
		o.Broker = &BrokerCmd{opts: o}
	case "service":
		o.Service = &ServiceCmd{opts: o}
	case "link":
		o.Link = &LinkCmd{opts: o}
	case "call":
		o.Call = &CallCmd{opts: o}
	case "version":
		o.Version = &VersionCmd{}
	}
}
