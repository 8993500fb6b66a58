package agentconn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zencelium/zencelium/internal/bus"
	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/registry"
)

func testConfig() Config {
	return Config{
		DefaultFrameMaxSize: 1024,
		StaleBusBackoff:     time.Millisecond,
		UnsubscribedBackoff: time.Millisecond,
	}
}

func newTestFixture(t *testing.T) (*catalog.SQLiteStore, *bus.InMemory, *registry.Registry) {
	t.Helper()
	store, err := catalog.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.NewInMemory()
	reg := registry.New(b)
	return store, b, reg
}

func waitForWrite(t *testing.T, sock *fakeSocket, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		writes := sock.writes()
		if len(writes) >= n {
			return writes
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d writes, got %d", n, len(writes))
		case <-time.After(time.Millisecond):
		}
	}
}

func TestLoginSuccessRepliesLoginOk(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	agent, err := store.SpaceAgentOf(ctx, account)
	require.NoError(t, err)

	sock := newFakeSocket()
	conn := New(sock, store, reg, b, testConfig())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.Start(runCtx, nil)

	loginFrame := frame.New(frame.KindCommand, "login", frame.Data{"token": agent.Token})
	payload, err := loginFrame.Encode()
	require.NoError(t, err)
	sock.push(payload)

	writes := waitForWrite(t, sock, 1)
	reply, err := frame.Decode(writes[0])
	require.NoError(t, err)
	require.Equal(t, "login-ok", reply.Name)
	require.Equal(t, loginFrame.UUID, reply.UUID)
	require.True(t, reg.IsConnected(agent.UUID))

	cancel()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down")
	}
	require.False(t, reg.IsConnected(agent.UUID))
}

func TestLoginFailureClosesConnection(t *testing.T) {
	store, b, reg := newTestFixture(t)
	sock := newFakeSocket()
	conn := New(sock, store, reg, b, testConfig())

	ctx := context.Background()
	go conn.Start(ctx, nil)

	loginFrame := frame.New(frame.KindCommand, "login", frame.Data{"token": "does-not-exist"})
	payload, err := loginFrame.Encode()
	require.NoError(t, err)
	sock.push(payload)

	writes := waitForWrite(t, sock, 1)
	reply, err := frame.Decode(writes[0])
	require.NoError(t, err)
	require.Equal(t, "login-failed", reply.Name)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down after failed login")
	}
}

func TestJoinWildcardSubscribesAllMemberships(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	agent, err := store.CreateAgent(ctx, account, "worker-1")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "alerts")
	require.NoError(t, err)
	require.NoError(t, store.AgentJoinSpace(ctx, agent, "alerts"))

	sock := newFakeSocket()
	conn := New(sock, store, reg, b, testConfig())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.Start(runCtx, nil)

	login := frame.New(frame.KindCommand, "login", frame.Data{"token": agent.Token})
	p, _ := login.Encode()
	sock.push(p)
	waitForWrite(t, sock, 1)

	join := frame.New(frame.KindCommand, "join", frame.Data{"spaces": "*"})
	p, _ = join.Encode()
	sock.push(p)

	writes := waitForWrite(t, sock, 2)
	reply, err := frame.Decode(writes[1])
	require.NoError(t, err)
	require.Equal(t, "join-ok", reply.Name)

	spaces := conn.currentSpaces()
	require.Len(t, spaces, 1)
	require.Equal(t, "alerts", spaces[0].Name)
}

func TestEventRelayBetweenTwoConnections(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	alice, err := store.CreateAgent(ctx, account, "alice")
	require.NoError(t, err)
	bob, err := store.CreateAgent(ctx, account, "bob")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "room")
	require.NoError(t, err)
	require.NoError(t, store.AgentJoinSpace(ctx, alice, "room"))
	require.NoError(t, store.AgentJoinSpace(ctx, bob, "room"))

	aliceSock := newFakeSocket()
	aliceConn := New(aliceSock, store, reg, b, testConfig())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go aliceConn.Start(runCtx, nil)

	bobSock := newFakeSocket()
	bobConn := New(bobSock, store, reg, b, testConfig())
	go bobConn.Start(runCtx, nil)

	loginAlice := frame.New(frame.KindCommand, "login", frame.Data{"token": alice.Token})
	p, _ := loginAlice.Encode()
	aliceSock.push(p)
	waitForWrite(t, aliceSock, 1)

	loginBob := frame.New(frame.KindCommand, "login", frame.Data{"token": bob.Token})
	p, _ = loginBob.Encode()
	bobSock.push(p)
	waitForWrite(t, bobSock, 1)

	joinAlice := frame.New(frame.KindCommand, "join", frame.Data{"spaces": "room"})
	p, _ = joinAlice.Encode()
	aliceSock.push(p)
	waitForWrite(t, aliceSock, 2)

	joinBob := frame.New(frame.KindCommand, "join", frame.Data{"spaces": "room"})
	p, _ = joinBob.Encode()
	bobSock.push(p)
	waitForWrite(t, bobSock, 2)

	ping := frame.New(frame.KindEvent, "ping", frame.Data{"n": float64(1)})
	p, _ = ping.Encode()
	aliceSock.push(p)

	writes := waitForWrite(t, bobSock, 3)
	relayed, err := frame.Decode(writes[2])
	require.NoError(t, err)
	require.Equal(t, "ping", relayed.Name)
	require.Equal(t, "alice", relayed.Meta["source"].(map[string]interface{})["name"])
}

// loginAndJoin drives a connection through login and join for one space,
// returning once the join-ok reply has landed.
func loginAndJoin(t *testing.T, sock *fakeSocket, agent *catalog.Agent, spaceName string) {
	t.Helper()
	login := frame.New(frame.KindCommand, "login", frame.Data{"token": agent.Token})
	p, _ := login.Encode()
	sock.push(p)
	waitForWrite(t, sock, 1)

	join := frame.New(frame.KindCommand, "join", frame.Data{"spaces": spaceName})
	p, _ = join.Encode()
	sock.push(p)
	waitForWrite(t, sock, 2)
}

func TestFilterRejectsOversizedFrame(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	alice, err := store.CreateAgent(ctx, account, "alice")
	require.NoError(t, err)
	bob, err := store.CreateAgent(ctx, account, "bob")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "room")
	require.NoError(t, err)
	require.NoError(t, store.AgentJoinSpace(ctx, alice, "room"))
	require.NoError(t, store.AgentJoinSpace(ctx, bob, "room"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aliceSock := newFakeSocket()
	aliceConn := New(aliceSock, store, reg, b, testConfig())
	go aliceConn.Start(runCtx, nil)
	loginAndJoin(t, aliceSock, alice, "room")

	bobSock := newFakeSocket()
	bobConn := New(bobSock, store, reg, b, testConfig())
	go bobConn.Start(runCtx, nil)
	loginAndJoin(t, bobSock, bob, "room")

	filter := frame.New(frame.KindCommand, "filter", frame.Data{"size": 64})
	p, _ := filter.Encode()
	bobSock.push(p)
	waitForWrite(t, bobSock, 3)

	big := frame.New(frame.KindEvent, "ping", frame.Data{
		"payload": "this data field is deliberately long enough to exceed a 64 byte limit",
	})
	p, _ = big.Encode()
	aliceSock.push(p)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, bobSock.writes(), 3, "oversized frame must be dropped, not written")
}

func TestSmallFramesStrippingAppliesOnlyAtOrBelow256(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	alice, err := store.CreateAgent(ctx, account, "alice")
	require.NoError(t, err)
	bob, err := store.CreateAgent(ctx, account, "bob")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "room")
	require.NoError(t, err)
	require.NoError(t, store.AgentJoinSpace(ctx, alice, "room"))
	require.NoError(t, store.AgentJoinSpace(ctx, bob, "room"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aliceSock := newFakeSocket()
	aliceConn := New(aliceSock, store, reg, b, testConfig())
	go aliceConn.Start(runCtx, nil)
	loginAndJoin(t, aliceSock, alice, "room")

	bobSock := newFakeSocket()
	bobConn := New(bobSock, store, reg, b, testConfig())
	go bobConn.Start(runCtx, nil)
	loginAndJoin(t, bobSock, bob, "room")

	// A payload sized so the unstripped frame (uuid + source/timestamp meta
	// included) clears 257 bytes but the stripped frame (uuid and meta
	// removed) stays under 256.
	padding := strings.Repeat("a", 170)

	// size:257 -> 257 <= 256 is false, no stripping: the unstripped frame
	// exceeds 257 bytes and is dropped.
	filter := frame.New(frame.KindCommand, "filter", frame.Data{"size": 257})
	p, _ := filter.Encode()
	bobSock.push(p)
	waitForWrite(t, bobSock, 3)

	ping := frame.New(frame.KindEvent, "ping", frame.Data{"payload": padding})
	p, _ = ping.Encode()
	aliceSock.push(p)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, bobSock.writes(), 3, "size:257 must not strip, so the oversized frame is dropped")

	// size:256 -> 256 <= 256 is true: stripping applies, and the post-strip
	// frame fits under 256, so it is delivered.
	filter2 := frame.New(frame.KindCommand, "filter", frame.Data{"size": 256})
	p, _ = filter2.Encode()
	bobSock.push(p)
	waitForWrite(t, bobSock, 4)

	ping2 := frame.New(frame.KindEvent, "ping", frame.Data{"payload": padding})
	p, _ = ping2.Encode()
	aliceSock.push(p)
	writes := waitForWrite(t, bobSock, 5)
	relayed, err := frame.Decode(writes[4])
	require.NoError(t, err)
	require.Equal(t, "ping", relayed.Name)
	require.Empty(t, relayed.UUID, "small-frames mode strips the correlation uuid")
	require.Nil(t, relayed.Meta, "small-frames mode strips meta")
}

func TestRequestAutoSubscribesNameForResponse(t *testing.T) {
	store, b, reg := newTestFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	alice, err := store.CreateAgent(ctx, account, "alice")
	require.NoError(t, err)
	bob, err := store.CreateAgent(ctx, account, "bob")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "room")
	require.NoError(t, err)
	require.NoError(t, store.AgentJoinSpace(ctx, alice, "room"))
	require.NoError(t, store.AgentJoinSpace(ctx, bob, "room"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aliceSock := newFakeSocket()
	aliceConn := New(aliceSock, store, reg, b, testConfig())
	go aliceConn.Start(runCtx, nil)
	loginAndJoin(t, aliceSock, alice, "room")

	bobSock := newFakeSocket()
	bobConn := New(bobSock, store, reg, b, testConfig())
	go bobConn.Start(runCtx, nil)
	loginAndJoin(t, bobSock, bob, "room")

	// Clear alice's request filter so only the auto-subscribe from her own
	// outgoing request should admit the matching response.
	filter := frame.New(frame.KindCommand, "filter", frame.Data{
		"names": map[string]interface{}{"request": []interface{}{}},
	})
	p, _ := filter.Encode()
	aliceSock.push(p)
	waitForWrite(t, aliceSock, 3)

	status := frame.New(frame.KindRequest, "status", nil)
	p, _ = status.Encode()
	aliceSock.push(p)
	waitForWrite(t, bobSock, 3) // bob receives the relayed request

	// Since alice is herself subscribed to "room", broadcasting her own
	// request there (no in-process shortcut, everything traverses the bus)
	// echoes it straight back to her too — admitted by the very filter
	// entry broadcastSend just auto-added. That lands as alice's 4th write,
	// ahead of the response.
	writes := waitForWrite(t, aliceSock, 4)
	echoed, err := frame.Decode(writes[3])
	require.NoError(t, err)
	require.Equal(t, "status", echoed.Name)
	require.Equal(t, frame.KindRequest, echoed.Kind)

	response := frame.Frame{Kind: frame.KindResponse, Name: "status", UUID: status.UUID}
	p, _ = response.Encode()
	bobSock.push(p)

	writes = waitForWrite(t, aliceSock, 5)
	reply, err := frame.Decode(writes[4])
	require.NoError(t, err)
	require.Equal(t, "status", reply.Name)
	require.Equal(t, frame.KindResponse, reply.Kind)
	require.Equal(t, status.UUID, reply.UUID, "response correlation matches the original request")
}
