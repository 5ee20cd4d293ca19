package ircd

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testServer starts a Server on an ephemeral loopback port for use by a
// single test. Grounded on the teacher's internal/client_test.go harness,
// but in-process rather than spawning a built binary, since we can never
// invoke the Go toolchain to produce one.
func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = "0"
	cfg.CooldownTime = 50 * time.Millisecond
	cfg.DisconnectRetention = time.Second
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.DeadTime = 2 * time.Second

	s := NewServer(cfg)
	require.NoError(t, s.Start())
	go s.Serve()

	t.Cleanup(func() {
		s.Shutdown("test complete")
	})

	return s
}

// testClient is a minimal line-oriented IRC client for driving a testServer
// from the other end of a real TCP connection.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.listener.Addr().String(), time.Second)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return line
}

// readUntil reads lines until one contains substr, failing the test if none
// arrives before the deadline.
func (c *testClient) readUntil(substr string) string {
	c.t.Helper()
	for i := 0; i < 50; i++ {
		line := c.readLine()
		if contains(line, substr) {
			return line
		}
	}
	c.t.Fatalf("never saw a line containing %q", substr)
	return ""
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func (c *testClient) register(nick string) {
	c.send("CAP LS")
	c.send("NICK " + nick)
	c.send("USER " + nick + " 0 * :" + nick)
	c.readUntil(" 001 ")
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

func TestRegistrationWelcomeBurst(t *testing.T) {
	s := testServer(t)
	c := dial(t, s)
	defer c.close()

	c.register("alice")
}

func TestNicknameCollision(t *testing.T) {
	s := testServer(t)
	a := dial(t, s)
	defer a.close()
	a.register("alice")

	b := dial(t, s)
	defer b.close()
	b.send("NICK alice")
	line := b.readUntil(" 433 ")
	require.Contains(t, line, "433")
}

func TestChannelFanOut(t *testing.T) {
	s := testServer(t)
	a := dial(t, s)
	defer a.close()
	a.register("alice")

	b := dial(t, s)
	defer b.close()
	b.register("bob")

	a.send("JOIN #general")
	a.readUntil("366")

	b.send("JOIN #general")
	a.readUntil("JOIN #general")
	b.readUntil("366")

	b.send("PRIVMSG #general :hello there")
	line := a.readUntil("PRIVMSG #general")
	require.Contains(t, line, "hello there")
}

func TestPrivmsgToUnknownNick(t *testing.T) {
	s := testServer(t)
	a := dial(t, s)
	defer a.close()
	a.register("alice")

	a.send("PRIVMSG ghost :hi")
	line := a.readUntil(" 401 ")
	require.Contains(t, line, "ghost")
}

func TestPingPong(t *testing.T) {
	s := testServer(t)
	a := dial(t, s)
	defer a.close()
	a.register("alice")

	a.send("PING sometoken")
	line := a.readUntil("PONG")
	require.Contains(t, line, "sometoken")
}

func TestQuitThenCooldownRefusesReconnect(t *testing.T) {
	s := testServer(t)
	a := dial(t, s)
	a.register("alice")

	a.send("QUIT :bye")
	a.readUntil("ERROR")
	a.close()

	time.Sleep(10 * time.Millisecond)

	b, err := net.DialTimeout("tcp", s.listener.Addr().String(), time.Second)
	require.NoError(t, err)
	defer b.Close()

	_ = b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	require.True(t, n == 0 || err != nil, fmt.Sprintf("expected the cooldown-refused connection to be closed, got %d bytes", n))
}
