package ircd

import (
	"net"
	"testing"
	"time"

	"github.com/horgh/irc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConns returns a conn and its peer, connected over loopback TCP since
// newConn needs a TCP remote address.
func pipeConns(t *testing.T) (*conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)

	c, err := newConn(server, time.Second)
	require.NoError(t, err)
	return c, client
}

func TestConnReadLineSplitsOnCRLF(t *testing.T) {
	c, client := pipeConns(t)
	defer c.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("NICK alice\r\nUSER a 0 * :A\r\n"))
	}()

	line, result, err := c.readLine()
	require.NoError(t, err)
	assert.Equal(t, readData, result)
	assert.Equal(t, "NICK alice", line)

	line, result, err = c.readLine()
	require.NoError(t, err)
	assert.Equal(t, readData, result)
	assert.Equal(t, "USER a 0 * :A", line)
}

func TestConnReadLineRetainsPartialAcrossReads(t *testing.T) {
	c, client := pipeConns(t)
	defer c.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("NICK al"))
		time.Sleep(10 * time.Millisecond)
		_, _ = client.Write([]byte("ice\r\n"))
	}()

	line, result, err := c.readLine()
	require.NoError(t, err)
	assert.Equal(t, readData, result)
	assert.Equal(t, "NICK alice", line)
}

func TestConnReadLineTimesOut(t *testing.T) {
	c, client := pipeConns(t)
	c.ioWait = 10 * time.Millisecond
	defer c.Close()
	defer client.Close()

	_, result, err := c.readLine()
	assert.Error(t, err)
	assert.Equal(t, readTimeout, result)
}

func TestConnWriteMessageEncodesToWire(t *testing.T) {
	c, client := pipeConns(t)
	defer c.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := c.writeMessage(irc.Message{
			Prefix:  "server",
			Command: "PING",
			Params:  []string{"token"},
		})
		assert.NoError(t, err)
	}()

	buf := make([]byte, 512)
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	<-done

	assert.Equal(t, ":server PING token\r\n", string(buf[:n]))
}
