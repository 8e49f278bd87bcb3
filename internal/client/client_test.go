package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zaqqye/relay/internal/broker"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/security"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/token"
)

var testSecret = []byte("client-test-secret")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	broker *broker.Broker
	issuer *token.Issuer
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	issuer := token.NewIssuer(testSecret, time.Hour)
	b := broker.New(broker.Options{
		Store:          store.NewMemory(),
		Issuer:         issuer,
		Secret:         testSecret,
		RequestTimeout: 2 * time.Second,
	})
	go b.Run()

	engine := gin.New()
	engine.GET("/ws", broker.Handler(b))
	server := httptest.NewServer(engine)

	t.Cleanup(func() {
		b.Close()
		server.Close()
	})
	return &testEnv{broker: b, issuer: issuer, server: server}
}

func (e *testEnv) endpoint() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func (e *testEnv) newClient(t *testing.T) *Client {
	t.Helper()
	c := New(e.endpoint())
	t.Cleanup(c.Close)
	return c
}

func (e *testEnv) credentials(t *testing.T, name string) [][]byte {
	t.Helper()
	salt, err := security.GenerateSalt()
	require.NoError(t, err)
	return [][]byte{salt, security.CredentialHash(testSecret, salt, name)}
}

// serviceProxy registers service/<name> on the client and waits until the
// registration holds.
func (e *testEnv) serviceProxy(t *testing.T, c *Client, name string) *Proxy {
	t.Helper()
	p, err := NewProxy(c, protocol.ServiceDomain(name), e.credentials(t, name))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitRegistered(ctx))
	return p
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestProxyRegisters(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	p := env.serviceProxy(t, c, "echo")

	claims, err := env.issuer.Verify(p.Token(), "service/echo")
	require.NoError(t, err)
	assert.Equal(t, "service/echo", claims.Domain)

	available, count, err := p.Query(shortCtx(t), "service/echo")
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, 1, count)

	available, count, err = p.Query(shortCtx(t), "service/ghost")
	require.NoError(t, err)
	assert.False(t, available)
	assert.Zero(t, count)

	assert.Contains(t, env.broker.Domains(), "service/echo")
}

func TestProxyInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	p, err := NewProxy(c, "service/echo", [][]byte{[]byte("salt"), []byte("bogus")})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.WaitRegistered(ctx), context.DeadlineExceeded)
	assert.False(t, p.Registered())
}

func TestRequestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	echo := env.serviceProxy(t, serving, "echo")
	var got protocol.Caller
	echo.OnCommand("echo", func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		got = caller
		return args, nil
	})

	probe := env.serviceProxy(t, calling, "probe")
	result, err := probe.Request(shortCtx(t), "service/echo", "echo",
		[][]byte{[]byte("one"), []byte("two")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, result)

	assert.Equal(t, "service/probe", got.Domain)
	claims, err := env.issuer.Verify(got.Token, "service/probe")
	require.NoError(t, err)
	assert.Equal(t, "service/probe", claims.Domain)
}

func TestRequestLocalShortcut(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	// The target never completes a broker registration, so only the local
	// path can serve it.
	local, err := NewProxy(c, "service/local", [][]byte{[]byte("salt"), []byte("bogus")})
	require.NoError(t, err)
	t.Cleanup(local.Close)
	local.OnCommand("whoami", func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		return [][]byte{[]byte(caller.Domain)}, nil
	})

	probe := env.serviceProxy(t, c, "probe")

	available, _, err := probe.Query(shortCtx(t), "service/local")
	require.NoError(t, err)
	require.False(t, available)

	result, err := probe.Request(shortCtx(t), "service/local", "whoami", nil)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("service/probe")}, result)
}

func TestRequestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	env.serviceProxy(t, serving, "echo")
	probe := env.serviceProxy(t, calling, "probe")

	_, err := probe.Request(shortCtx(t), "service/echo", "nope", nil)
	callErr := &protocol.CallError{}
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeNotFound, callErr.Code)
	assert.Equal(t, "Unknown command: nope.", callErr.Message)
}

func TestRequestNoSuchDomain(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	probe := env.serviceProxy(t, c, "probe")

	_, err := probe.Request(shortCtx(t), "service/ghost", "anything", nil)
	callErr := &protocol.CallError{}
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeNotFound, callErr.Code)
	assert.Equal(t, "No such domain: service/ghost.", callErr.Message)
}

func TestNotify(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	events := env.serviceProxy(t, serving, "events")
	received := make(chan protocol.Caller, 1)
	events.OnNotification("update", func(caller protocol.Caller, args [][]byte) {
		if len(args) == 1 && string(args[0]) == "payload" {
			received <- caller
		}
	})

	probe := env.serviceProxy(t, calling, "probe")
	require.NoError(t, probe.Notify(shortCtx(t), "service/events", "update",
		[][]byte{[]byte("payload")}))

	select {
	case caller := <-received:
		assert.Equal(t, "service/probe", caller.Domain)
	case <-time.After(3 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestNotifyLocal(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	events := env.serviceProxy(t, c, "events")
	received := make(chan [][]byte, 1)
	events.OnNotification("update", func(caller protocol.Caller, args [][]byte) {
		received <- args
	})

	probe := env.serviceProxy(t, c, "probe")
	require.NoError(t, probe.Notify(shortCtx(t), "service/events", "update",
		[][]byte{[]byte("local")}))

	select {
	case args := <-received:
		require.Equal(t, [][]byte{[]byte("local")}, args)
	case <-time.After(time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestReconnectReregisters(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	p := env.serviceProxy(t, c, "echo")
	first := p.Token()

	env.server.CloseClientConnections()

	require.Eventually(t, func() bool {
		tok := p.Token()
		return tok != "" && tok != first
	}, 5*time.Second, 20*time.Millisecond, "proxy never re-registered")

	available, count, err := p.Query(shortCtx(t), "service/echo")
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, 1, count)
}

func TestRequestConnectionLost(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	slow := env.serviceProxy(t, serving, "slow")
	entered := make(chan struct{})
	release := make(chan struct{})
	slow.OnCommand("work", func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		close(entered)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return nil, nil
		}
	})

	probe := env.serviceProxy(t, calling, "probe")
	t.Cleanup(func() { close(release) })

	reqCtx := shortCtx(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := probe.Request(reqCtx, "service/slow", "work", nil)
		errCh <- err
	}()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("request never reached the serving proxy")
	}
	env.server.CloseClientConnections()

	select {
	case err := <-errCh:
		callErr := &protocol.CallError{}
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, protocol.CodeUnavailable, callErr.Code)
		assert.Equal(t, "Connection was lost.", callErr.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not fail after the connection dropped")
	}
}

func TestTransmit(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	target := env.serviceProxy(t, serving, "target")
	var got protocol.Caller
	target.OnCommand("hello", func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		got = caller
		return [][]byte{[]byte("hi " + caller.Username())}, nil
	})

	probe := env.serviceProxy(t, calling, "probe")
	issued, err := env.issuer.Issue(protocol.UserDomain("alice"))
	require.NoError(t, err)

	result, err := probe.Transmit(shortCtx(t), "service/target",
		protocol.Caller{Domain: "user/alice", Token: issued.Token},
		[][]byte{[]byte("hello")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hi alice")}, result)
	assert.Equal(t, "user/alice", got.Domain)
	assert.Equal(t, issued.Token, got.Token)
}

func TestDuplicateProxyDomain(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)
	env.serviceProxy(t, c, "echo")

	_, err := NewProxy(c, "service/echo", env.credentials(t, "echo"))
	require.Error(t, err)
}

func TestProxyCloseReleasesDomain(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	p, err := NewProxy(c, "service/brief", env.credentials(t, "brief"))
	require.NoError(t, err)
	require.NoError(t, p.WaitRegistered(shortCtx(t)))
	require.Contains(t, env.broker.Domains(), "service/brief")

	p.Close()
	assert.NotContains(t, env.broker.Domains(), "service/brief")
	assert.False(t, p.Registered())
}

func TestRPCProxy(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	calc := env.serviceProxy(t, serving, "calculator")
	calc.OnCommand(protocol.CmdDescribe, func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		desc, err := json.Marshal(protocol.RPCDescription{
			Methods: map[string]protocol.RPCMethod{
				"add": {Parameters: []protocol.RPCParameter{
					{Name: "a", Kind: protocol.ParameterPositionalOrKeyword},
					{Name: "b", Kind: protocol.ParameterPositionalOrKeyword},
				}},
			},
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{desc}, nil
	})
	calc.OnCommand(protocol.CmdMethodCall, func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		if len(args) != 3 || string(args[0]) != "add" {
			return nil, protocol.NewCallError(protocol.CodeNotFound, "No such method.")
		}
		var positional []float64
		if err := json.Unmarshal(args[1], &positional); err != nil {
			return nil, err
		}
		var named map[string]float64
		if err := json.Unmarshal(args[2], &named); err != nil {
			return nil, err
		}
		sum := named["a"] + named["b"]
		for _, v := range positional {
			sum += v
		}
		result, err := json.Marshal(sum)
		if err != nil {
			return nil, err
		}
		return [][]byte{result}, nil
	})

	rpc, err := NewRPCProxy(calling, "service/probe", env.credentials(t, "probe"))
	require.NoError(t, err)
	t.Cleanup(rpc.Close)
	require.NoError(t, rpc.WaitRegistered(shortCtx(t)))

	desc, err := rpc.Describe(shortCtx(t), "service/calculator")
	require.NoError(t, err)
	require.Contains(t, desc.Methods, "add")
	require.Len(t, desc.Methods["add"].Parameters, 2)
	assert.Equal(t, "a", desc.Methods["add"].Parameters[0].Name)
	assert.Equal(t, "b", desc.Methods["add"].Parameters[1].Name)

	result, err := rpc.Call(shortCtx(t), "service/calculator", "add", 1, 2)
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(result))

	result, err = rpc.CallNamed(shortCtx(t), "service/calculator", "add",
		map[string]interface{}{"a": 4, "b": 5})
	require.NoError(t, err)
	assert.JSONEq(t, "9", string(result))
}

func TestClientUnreachableEndpoint(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws")
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.WaitConnected(ctx), context.DeadlineExceeded)
	assert.False(t, c.Connected())
}

func TestClientCloseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := New(env.endpoint())
	require.NoError(t, c.WaitConnected(shortCtx(t)))
	c.Close()
	c.Close()
}
