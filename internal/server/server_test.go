package server

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/internal/protocol"
)

const recvTimeout = 2 * time.Second

func startServer(t *testing.T, withWS bool) *Server {
	t.Helper()

	cfg := Config{
		Addr:        "127.0.0.1:0",
		HistoryPath: filepath.Join(t.TempDir(), "history.log"),
		HistoryTail: 50,
		Workers:     1,
	}
	if withWS {
		cfg.WSAddr = "127.0.0.1:0"
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	return srv
}

// testClient drives one TCP connection through the line protocol.
type testClient struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, sc: bufio.NewScanner(conn)}
}

func (c *testClient) send(kind protocol.RequestKind, content string) {
	c.t.Helper()
	data, err := protocol.EncodeRequest(kind, content)
	require.NoError(c.t, err)
	c.sendRaw(string(data))
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	_, err := fmt.Fprintln(c.conn, line)
	require.NoError(c.t, err)
}

func (c *testClient) recv() protocol.Response {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	require.True(c.t, c.sc.Scan(), "expected a response line, got none: %v", c.sc.Err())
	resp, err := protocol.DecodeResponse(c.sc.Bytes())
	require.NoError(c.t, err)
	return resp
}

// login performs a login and consumes the welcome response.
func (c *testClient) login(name string) {
	c.t.Helper()
	c.send(protocol.KindLogin, name)
	resp := c.recv()
	require.Equal(c.t, protocol.KindInfo, resp.Kind)
	require.Equal(c.t, "Login successful. Welcome to the chat.", resp.Content)
}

func TestLoginAnnouncesToOthersOnly(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")

	bob := dial(t, srv)
	bob.login("bob") // bob's first response is the welcome, not his own join notice

	joined := alice.recv()
	assert.Equal(t, protocol.KindInfo, joined.Kind)
	assert.Equal(t, protocol.ServerName, joined.Sender)
	assert.Equal(t, "User bob logged in.", joined.Content)
}

func TestLoginRejectsBadUsernames(t *testing.T) {
	srv := startServer(t, false)
	c := dial(t, srv)

	for _, name := range []string{"ab", strings.Repeat("x", 21), "not valid!", "None?"} {
		c.send(protocol.KindLogin, name)
		resp := c.recv()
		assert.Equal(t, protocol.KindError, resp.Kind)
		assert.Equal(t, msgBadUsername, resp.Content)
	}

	// The connection is still usable afterwards.
	c.login("ab_c")
}

func TestLoginRejectsTakenUsername(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")

	imposter := dial(t, srv)
	imposter.send(protocol.KindLogin, "alice")
	resp := imposter.recv()
	assert.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, msgUsernameTaken, resp.Content)
}

func TestConcurrentLoginsOneWinner(t *testing.T) {
	const n = 8
	srv := startServer(t, false)

	// Every goroutine holds its connection open until the snapshot below
	// has been asserted; closing the winner early would let its teardown
	// unregister "dave" first.
	release := make(chan struct{})
	results := make(chan protocol.ResponseKind, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				results <- ""
				return
			}
			defer conn.Close()

			data, _ := protocol.EncodeRequest(protocol.KindLogin, "dave")
			fmt.Fprintln(conn, string(data))

			conn.SetReadDeadline(time.Now().Add(recvTimeout))
			sc := bufio.NewScanner(conn)
			if !sc.Scan() {
				results <- ""
				return
			}
			resp, err := protocol.DecodeResponse(sc.Bytes())
			if err != nil {
				results <- ""
				return
			}
			results <- resp.Kind
			<-release
		}()
	}

	wins, conflicts := 0, 0
	for i := 0; i < n; i++ {
		switch <-results {
		case protocol.KindInfo:
			wins++
		case protocol.KindError:
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, []string{"dave"}, srv.registry.Snapshot())

	close(release)
	wg.Wait()
}

func TestMalformedLineKeepsConnectionOpen(t *testing.T) {
	srv := startServer(t, false)
	c := dial(t, srv)

	c.sendRaw("this is not json")
	resp := c.recv()
	assert.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, msgNotValid, resp.Content)

	c.sendRaw(`{"content":"missing kind"}`)
	resp = c.recv()
	assert.Equal(t, protocol.KindError, resp.Kind)

	c.login("alice")
}

func TestMsgBroadcastIncludesSender(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	alice.recv() // bob's join notice

	alice.send(protocol.KindMsg, "hello everyone")

	for _, c := range []*testClient{alice, bob} {
		resp := c.recv()
		assert.Equal(t, protocol.KindMessage, resp.Kind)
		assert.Equal(t, "alice", resp.Sender)
		assert.Equal(t, "hello everyone", resp.Content)
	}
}

func TestMsgRequiresLogin(t *testing.T) {
	srv := startServer(t, false)
	c := dial(t, srv)

	c.send(protocol.KindMsg, "anyone there?")
	resp := c.recv()
	assert.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, msgNotLoggedIn, resp.Content)
}

func TestNamesReturnsSortedSnapshot(t *testing.T) {
	srv := startServer(t, false)

	carol := dial(t, srv)
	carol.login("carol")
	alice := dial(t, srv)
	alice.login("alice")
	carol.recv() // alice's join notice

	carol.send(protocol.KindNames, protocol.NoContent)
	resp := carol.recv()
	assert.Equal(t, protocol.KindInfo, resp.Kind)
	assert.Equal(t, "alice, carol", resp.Content)
}

func TestHelpWorksWhileAnonymous(t *testing.T) {
	srv := startServer(t, false)
	c := dial(t, srv)

	c.send(protocol.KindHelp, protocol.NoContent)
	resp := c.recv()
	assert.Equal(t, protocol.KindInfo, resp.Kind)
	assert.Contains(t, resp.Content, "login <username>")

	c.send(protocol.KindHelp, "please")
	resp = c.recv()
	assert.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, msgHelpTakesNoContent, resp.Content)
}

func TestLogoutAcknowledgesThenNotifiesAndFreesName(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	alice.recv() // join notice

	bob.send(protocol.KindLogout, protocol.NoContent)
	ack := bob.recv()
	assert.Equal(t, protocol.KindInfo, ack.Kind)
	assert.Equal(t, "Logout successful. Bye.", ack.Content)

	notice := alice.recv()
	assert.Equal(t, protocol.KindInfo, notice.Kind)
	assert.Equal(t, "User bob logged out.", notice.Content)

	// The freed username is immediately reusable by a new connection.
	bob2 := dial(t, srv)
	bob2.login("bob")
}

func TestAbruptDisconnectLooksLikeLogout(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	alice.recv() // join notice

	require.NoError(t, bob.conn.Close())

	notice := alice.recv()
	assert.Equal(t, protocol.KindInfo, notice.Kind)
	assert.Equal(t, "User bob logged out.", notice.Content)

	// Exactly one notice: the next response alice sees must be her names
	// answer, and bob is gone from it.
	alice.send(protocol.KindNames, protocol.NoContent)
	resp := alice.recv()
	assert.Equal(t, protocol.KindInfo, resp.Kind)
	assert.Equal(t, "alice", resp.Content)
}

func TestLogoutThenDisconnectDoesNotDoubleNotify(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	alice.recv() // join notice

	bob.send(protocol.KindLogout, protocol.NoContent)
	bob.recv() // ack
	require.NoError(t, bob.conn.Close())

	notice := alice.recv()
	assert.Equal(t, "User bob logged out.", notice.Content)

	alice.send(protocol.KindNames, protocol.NoContent)
	resp := alice.recv()
	assert.Equal(t, protocol.KindInfo, resp.Kind)
	assert.Equal(t, "alice", resp.Content, "the disconnect after logout must not broadcast again")
}

func TestHistoryReplayOnLogin(t *testing.T) {
	srv := startServer(t, false)

	alice := dial(t, srv)
	alice.login("alice")
	alice.send(protocol.KindMsg, "for the record")
	alice.recv() // own echo

	// The append runs through the worker pool; wait for it to land.
	require.Eventually(t, func() bool {
		return len(srv.history.Tail(0)) == 1
	}, recvTimeout, 10*time.Millisecond)

	bob := dial(t, srv)
	bob.login("bob")
	replay := bob.recv()
	assert.Equal(t, protocol.KindHistory, replay.Kind)
	assert.Equal(t, protocol.ServerName, replay.Sender)
	assert.Contains(t, replay.Content, "alice: for the record")
}

func TestWebSocketClientSharesTheChat(t *testing.T) {
	srv := startServer(t, true)

	url := fmt.Sprintf("ws://%s/ws", srv.WSAddr())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	wsSend := func(kind protocol.RequestKind, content string) {
		data, err := protocol.EncodeRequest(kind, content)
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	}
	wsRecv := func() protocol.Response {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(recvTimeout)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		resp, err := protocol.DecodeResponse(data)
		require.NoError(t, err)
		return resp
	}

	wsSend(protocol.KindLogin, "webbie")
	welcome := wsRecv()
	require.Equal(t, protocol.KindInfo, welcome.Kind)
	require.Equal(t, "Login successful. Welcome to the chat.", welcome.Content)

	alice := dial(t, srv)
	alice.login("alice")
	joined := wsRecv()
	assert.Equal(t, "User alice logged in.", joined.Content)

	alice.send(protocol.KindMsg, "hello across transports")
	alice.recv() // own echo
	got := wsRecv()
	assert.Equal(t, protocol.KindMessage, got.Kind)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "hello across transports", got.Content)

	wsSend(protocol.KindMsg, "right back at you")
	reply := alice.recv()
	assert.Equal(t, protocol.KindMessage, reply.Kind)
	assert.Equal(t, "webbie", reply.Sender)
	assert.Equal(t, "right back at you", reply.Content)
}

// A client that stops reading eventually has its outbound buffer overflow.
// The eviction must fully disconnect it: session gone, username free again,
// connection closed, and nothing it wrote afterwards reaches the chat.
func TestEvictedClientIsDisconnected(t *testing.T) {
	srv := startServer(t, false)

	zed := dial(t, srv)
	zed.login("zed")
	alice := dial(t, srv)
	alice.login("alice")
	zed.recv() // alice's join notice, then zed goes silent

	// Flood until zed's stalled sink overflows and the registry drops him.
	// Alice reads her own echo each round, so only zed's buffer grows.
	payload := strings.Repeat("x", 4096)
	evicted := false
	for i := 0; i < 5000; i++ {
		alice.send(protocol.KindMsg, payload)
		alice.recv()
		if !srv.registry.Contains("zed") {
			evicted = true
			break
		}
	}
	require.True(t, evicted, "stalled client was never evicted")

	notice := alice.recv()
	assert.Equal(t, protocol.KindInfo, notice.Kind)
	assert.Equal(t, "User zed logged out.", notice.Content)

	// The server must have closed zed's side: draining the backlog ends in
	// a clean EOF rather than a read timeout.
	require.NoError(t, zed.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	for zed.sc.Scan() {
	}
	assert.NoError(t, zed.sc.Err(), "expected the server to close the connection")

	// The username is free for a fresh login.
	zed2 := dial(t, srv)
	zed2.login("zed")
	joined := alice.recv()
	assert.Equal(t, "User zed logged in.", joined.Content)

	// A write on the dead connection must not surface in the chat.
	data, err := protocol.EncodeRequest(protocol.KindMsg, "from beyond")
	require.NoError(t, err)
	fmt.Fprintln(zed.conn, string(data)) // error irrelevant, conn is dead

	alice.send(protocol.KindMsg, "ping")
	alice.recv() // own echo
	got := zed2.recv()
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "ping", got.Content)
}

func TestServeReturnsNilAfterShutdown(t *testing.T) {
	cfg := Config{
		Addr:        "127.0.0.1:0",
		HistoryPath: filepath.Join(t.TempDir(), "history.log"),
		HistoryTail: 50,
		Workers:     1,
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	srv.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(recvTimeout):
		t.Fatal("Serve did not return after Shutdown")
	}
}
