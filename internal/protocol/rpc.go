package protocol

// Commands served by RPC services on top of the plain frame protocol.
const (
	CmdDescribe   = "describe"
	CmdMethodCall = "method_call"
)

// Parameter kinds reported by describe.
const (
	ParameterPositionalOrKeyword = "positional_or_keyword"
	ParameterVarPositional       = "var_positional"
)

// RPCParameter describes one parameter of an RPC method.
type RPCParameter struct {
	Name    string      `json:"name"`
	Kind    string      `json:"kind"`
	Default interface{} `json:"default,omitempty"`
}

// RPCMethod describes one method of an RPC service.
type RPCMethod struct {
	Parameters []RPCParameter `json:"parameters"`
}

// RPCDescription is the payload of a describe response.
type RPCDescription struct {
	Methods map[string]RPCMethod `json:"methods"`
}
