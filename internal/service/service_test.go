package service

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zaqqye/relay/internal/broker"
	"github.com/zaqqye/relay/internal/client"
	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/models"
	"github.com/zaqqye/relay/internal/protocol"
	"github.com/zaqqye/relay/internal/security"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/token"
	"github.com/zaqqye/relay/internal/utils"
)

var testSecret = []byte("service-test-secret")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	broker *broker.Broker
	store  *store.Memory
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	b := broker.New(broker.Options{
		Store:          st,
		Issuer:         token.NewIssuer(testSecret, time.Hour),
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
	return &testEnv{broker: b, store: st, server: server}
}

func (e *testEnv) endpoint() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func (e *testEnv) newClient(t *testing.T) *client.Client {
	t.Helper()
	c := client.New(e.endpoint())
	t.Cleanup(c.Close)
	return c
}

func addUser(t *testing.T, st store.Store, username, password string, active bool) {
	t.Helper()
	hash, err := utils.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(context.Background(), &models.User{
		UserID:   uuid.NewString(),
		Username: username,
		FullName: username,
		Password: hash,
		Role:     models.RoleUser,
		Active:   active,
	}))
}

func waitRegistered(t *testing.T, p *client.Proxy) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitRegistered(ctx))
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCredentials(t *testing.T) {
	creds, err := Credentials(testSecret, "widget")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.True(t, security.VerifyCredential(testSecret, creds[0], "widget", creds[1]))
	assert.False(t, security.VerifyCredential(testSecret, creds[0], "gadget", creds[1]))
}

func TestServiceRegisters(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	s, err := New(c, testSecret, "widget")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	waitRegistered(t, s.Proxy)

	assert.Equal(t, "widget", s.Name())
	assert.Equal(t, "service/widget", s.Domain())
	assert.Contains(t, env.broker.Domains(), "service/widget")
}

func TestAuthenticateCommand(t *testing.T) {
	st := store.NewMemory()
	addUser(t, st, "bob", "password", true)
	addUser(t, st, "carol", "password", false)
	a := &Authentication{store: st, logger: log.WithComponent(AuthenticationName)}

	check := func(domain, password string) error {
		_, err := a.authenticate(context.Background(),
			protocol.Caller{Domain: domain}, [][]byte{[]byte(password)})
		return err
	}

	result, err := a.authenticate(context.Background(),
		protocol.Caller{Domain: "user/bob"}, [][]byte{[]byte("password")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{}}, result)

	callErr := &protocol.CallError{}
	require.ErrorAs(t, check("user/bob", "nope"), &callErr)
	assert.Equal(t, protocol.CodeUnauthorized, callErr.Code)
	assert.Equal(t, "Invalid password.", callErr.Message)

	require.ErrorAs(t, check("user/ghost", "password"), &callErr)
	assert.Equal(t, protocol.CodeUnauthorized, callErr.Code)
	assert.Equal(t, "Unknown username.", callErr.Message)

	require.ErrorAs(t, check("user/carol", "password"), &callErr)
	assert.Equal(t, protocol.CodeForbidden, callErr.Code)
	assert.Equal(t, "User is disabled.", callErr.Message)

	require.ErrorAs(t, check("service/widget", "password"), &callErr)
	assert.Equal(t, protocol.CodeBadRequest, callErr.Code)

	_, err = a.authenticate(context.Background(), protocol.Caller{Domain: "user/bob"}, nil)
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeBadRequest, callErr.Code)
}

func TestUserRegistrationThroughBroker(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env.store, "bob", "password", true)

	serving := env.newClient(t)
	auth, err := NewAuthentication(serving, testSecret, env.store)
	require.NoError(t, err)
	t.Cleanup(auth.Close)
	waitRegistered(t, auth.Proxy)

	calling := env.newClient(t)
	user, err := client.NewProxy(calling, protocol.UserDomain("bob"),
		[][]byte{[]byte("password")})
	require.NoError(t, err)
	t.Cleanup(user.Close)
	waitRegistered(t, user)
	assert.Contains(t, env.broker.Domains(), "user/bob")

	bad, err := client.NewProxy(calling, protocol.UserDomain("mallory"),
		[][]byte{[]byte("password")})
	require.NoError(t, err)
	t.Cleanup(bad.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, bad.WaitRegistered(ctx), context.DeadlineExceeded)
}

func TestRPCService(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	strSvc, err := NewRPC(serving, testSecret, "strings")
	require.NoError(t, err)
	t.Cleanup(strSvc.Close)
	strSvc.Method("concat", func(ctx context.Context, caller protocol.Caller, args []json.RawMessage) (interface{}, error) {
		var a, b string
		if err := json.Unmarshal(args[0], &a); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(args[1], &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}, Param("a"), Param("b"))
	strSvc.Method("ping", func(ctx context.Context, caller protocol.Caller, args []json.RawMessage) (interface{}, error) {
		return "pong", nil
	})
	waitRegistered(t, strSvc.Proxy)

	creds, err := Credentials(testSecret, "probe")
	require.NoError(t, err)
	rpc, err := client.NewRPCProxy(calling, "service/probe", creds)
	require.NoError(t, err)
	t.Cleanup(rpc.Close)
	waitRegistered(t, rpc.Proxy)

	desc, err := rpc.Describe(shortCtx(t), "service/strings")
	require.NoError(t, err)
	require.Contains(t, desc.Methods, "concat")
	require.Contains(t, desc.Methods, "ping")
	require.Len(t, desc.Methods["concat"].Parameters, 2)
	assert.Equal(t, "a", desc.Methods["concat"].Parameters[0].Name)
	assert.Empty(t, desc.Methods["ping"].Parameters)

	result, err := rpc.Call(shortCtx(t), "service/strings", "concat", "foo", "bar")
	require.NoError(t, err)
	assert.JSONEq(t, `"foobar"`, string(result))

	result, err = rpc.CallNamed(shortCtx(t), "service/strings", "concat",
		map[string]interface{}{"a": "x", "b": "y"})
	require.NoError(t, err)
	assert.JSONEq(t, `"xy"`, string(result))

	_, err = rpc.Call(shortCtx(t), "service/strings", "reverse", "foo")
	callErr := &protocol.CallError{}
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeNotFound, callErr.Code)
	assert.Equal(t, "No such method.", callErr.Message)

	_, err = rpc.Call(shortCtx(t), "service/strings", "concat", "only-one")
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeBadRequest, callErr.Code)
}

func TestMergeArguments(t *testing.T) {
	params := []protocol.RPCParameter{Param("a"), Param("b")}
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	merged, err := mergeArguments(params,
		[]json.RawMessage{raw("1")},
		map[string]json.RawMessage{"b": raw("2")})
	require.NoError(t, err)
	require.Equal(t, []json.RawMessage{raw("1"), raw("2")}, merged)

	_, err = mergeArguments(params,
		[]json.RawMessage{raw("1"), raw("2"), raw("3")}, nil)
	require.Error(t, err)

	_, err = mergeArguments(params,
		[]json.RawMessage{raw("1")},
		map[string]json.RawMessage{"a": raw("2")})
	require.Error(t, err)

	_, err = mergeArguments(params,
		[]json.RawMessage{raw("1"), raw("2")},
		map[string]json.RawMessage{"c": raw("3")})
	require.Error(t, err)

	variadic := []protocol.RPCParameter{Param("first"), Variadic("rest")}
	merged, err = mergeArguments(variadic,
		[]json.RawMessage{raw("1"), raw("2"), raw("3")}, nil)
	require.NoError(t, err)
	require.Equal(t, []json.RawMessage{raw("1"), raw("2"), raw("3")}, merged)
}

func TestArithmetic(t *testing.T) {
	env := newTestEnv(t)
	serving := env.newClient(t)
	calling := env.newClient(t)

	arith, err := NewArithmetic(serving, testSecret)
	require.NoError(t, err)
	t.Cleanup(arith.Close)
	waitRegistered(t, arith.Proxy)

	creds, err := Credentials(testSecret, "probe")
	require.NoError(t, err)
	rpc, err := client.NewRPCProxy(calling, "service/probe", creds)
	require.NoError(t, err)
	t.Cleanup(rpc.Close)
	waitRegistered(t, rpc.Proxy)

	result, err := rpc.Call(shortCtx(t), "service/arithmetic", "sum", 1, 2, 3.5)
	require.NoError(t, err)
	assert.JSONEq(t, "6.5", string(result))

	result, err = rpc.Call(shortCtx(t), "service/arithmetic", "sum")
	require.NoError(t, err)
	assert.JSONEq(t, "0", string(result))

	_, err = rpc.Call(shortCtx(t), "service/arithmetic", "sum", "not-a-number")
	callErr := &protocol.CallError{}
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeBadRequest, callErr.Code)
}

func TestLinkDispatch(t *testing.T) {
	envA := newTestEnv(t)
	envB := newTestEnv(t)

	// An echo service lives only on broker B.
	serving := envB.newClient(t)
	echo, err := New(serving, testSecret, "echo")
	require.NoError(t, err)
	t.Cleanup(echo.Close)
	var seen protocol.Caller
	echo.OnCommand("echo", func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error) {
		seen = caller
		return args, nil
	})
	waitRegistered(t, echo.Proxy)

	linkA := envA.newClient(t)
	linkB := envB.newClient(t)
	group, err := NewLinkGroup([]*client.Client{linkA, linkB}, testSecret)
	require.NoError(t, err)
	t.Cleanup(group.Close)
	for _, l := range group.Links() {
		waitRegistered(t, l.Proxy)
	}

	calling := envA.newClient(t)
	probe, err := New(calling, testSecret, "probe")
	require.NoError(t, err)
	t.Cleanup(probe.Close)
	waitRegistered(t, probe.Proxy)

	result, err := probe.Request(shortCtx(t), "service/link", "dispatch",
		[][]byte{[]byte("service/echo"), []byte("echo"), []byte("payload")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("payload")}, result)
	assert.Equal(t, "service/probe", seen.Domain)

	_, err = probe.Request(shortCtx(t), "service/link", "dispatch",
		[][]byte{[]byte("service/ghost"), []byte("echo")})
	callErr := &protocol.CallError{}
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeNotFound, callErr.Code)
	assert.Equal(t, "No such domain: service/ghost.", callErr.Message)
}
