package ircd

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/horgh/irc"
)

// sendQueueSize bounds how many outgoing messages we'll buffer for a slow
// client before giving up on it, mirroring the teacher's
// LocalClient.WriteChan / SendQueueExceeded pattern in local_client.go.
const sendQueueSize = 100

// regState is a client's position in the registration state machine
// described in spec.md §4.3: unregistered clients may only send CAP, NICK,
// USER, PING, PONG and QUIT; everything else is rejected with 451 until
// registration completes.
type regState int

const (
	stateUnregistered regState = iota
	stateRegistered
	stateClosed
)

// Client is a single connected client: its connection, its registration
// state, and everything it has joined or been assigned. One Client is
// shared between a read goroutine and a write goroutine; all access to its
// mutable fields (other than through the channels below) must hold the
// owning Server's clients lock.
type Client struct {
	ID     uint64
	server *Server
	conn   *conn

	// Nick and NickCanon are empty until a valid NICK has been accepted.
	Nick      string
	NickCanon string
	User      string
	RealName  string

	// Hostname is what we show in message prefixes. We don't do reverse DNS
	// (spec.md's Non-goals); it's the client's dotted/colon IP string.
	Hostname string

	gotNick bool
	gotUser bool
	state   regState

	// Modes holds single-character user modes currently set, e.g. "i".
	Modes map[byte]struct{}

	// Channels holds the canonical names of channels this client is on.
	Channels map[string]struct{}

	ConnectedAt time.Time

	// lastActivity is updated on every line successfully read from the
	// client. The ping/dead-time idle policy itself runs off read deadlines
	// (handleClientTimeout in server.go), not off this timestamp.
	mu                sync.Mutex
	lastActivity      time.Time
	pingSent          bool
	sendQueueExceeded bool
	quitReason        string

	writeChan    chan irc.Message
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

func newClient(server *Server, id uint64, nc *conn) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		server:       server,
		conn:         nc,
		Hostname:     nc.IP.String(),
		Modes:        make(map[byte]struct{}),
		Channels:     make(map[string]struct{}),
		ConnectedAt:  now,
		lastActivity: now,
		writeChan:    make(chan irc.Message, sendQueueSize),
		shutdownChan: make(chan struct{}),
	}
}

// IP returns the client's remote address.
func (c *Client) IP() net.IP {
	return c.conn.IP
}

// Registered reports whether NICK and USER have both completed.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRegistered
}

func (c *Client) isOperator() bool {
	_, ok := c.Modes['o']
	return ok
}

// setQuitReason records the reason a client gave in QUIT, for the server to
// use when it broadcasts the client's departure to co-members.
func (c *Client) setQuitReason(reason string) {
	c.mu.Lock()
	c.quitReason = reason
	c.mu.Unlock()
}

// getQuitReason returns the reason set by setQuitReason, or def if none was
// set (e.g. the connection simply dropped without a QUIT).
func (c *Client) getQuitReason(def string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quitReason == "" {
		return def
	}
	return c.quitReason
}

func (c *Client) isInvisible() bool {
	_, ok := c.Modes['i']
	return ok
}

// modesString renders Modes as a "+xyz" string, or "+" if none are set.
func (c *Client) modesString() string {
	s := "+"
	for ch := range c.Modes {
		s += string(ch)
	}
	return s
}

// nickUhost renders nick!user@host, the canonical message-prefix form.
func (c *Client) nickUhost() string {
	return fmt.Sprintf("%s!%s@%s", c.Nick, c.User, c.Hostname)
}

func (c *Client) touchActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.pingSent = false
	c.mu.Unlock()
	c.conn.ioWait = c.server.Config.PingTime
}

func (c *Client) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *Client) markPingSent() {
	c.mu.Lock()
	c.pingSent = true
	c.mu.Unlock()
}

func (c *Client) pingAlreadySent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingSent
}

// maybeQueueMessage attempts a non-blocking send of m to the client's write
// goroutine. If the client's send queue is already full we mark it exceeded
// and drop the message rather than block the sender (which, for PRIVMSG
// fan-out, could be the goroutine of some other, unrelated client), and
// request shutdown of the client's goroutines, which disconnects it.
//
// Grounded on local_client.go's maybeQueueMessage in the teacher.
func (c *Client) maybeQueueMessage(m irc.Message) {
	select {
	case c.writeChan <- m:
	default:
		c.mu.Lock()
		c.sendQueueExceeded = true
		c.mu.Unlock()
		log.Printf("client %d: send queue exceeded, dropping connection", c.ID)
		c.requestShutdown()
	}
}

func (c *Client) hasSendQueueExceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendQueueExceeded
}

// requestShutdown signals the client's read/write goroutines to stop. Safe
// to call more than once or from more than one goroutine.
func (c *Client) requestShutdown() {
	c.closeOnce.Do(func() {
		close(c.shutdownChan)
	})
}

// writeLoop drains writeChan and writes each message to the wire until
// told to shut down. It owns the conn for writing, so no other goroutine
// may call conn.writeMessage directly, and it closes the conn on exit, after
// any final drain.
func (c *Client) writeLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	defer c.conn.Close()

	for {
		select {
		case m := <-c.writeChan:
			if err := c.conn.writeMessage(m); err != nil {
				log.Printf("client %d: write error: %s", c.ID, err)
				c.requestShutdown()
				return
			}
		case <-c.shutdownChan:
			c.drainWrites()
			return
		}
	}
}

// drainWrites flushes any messages still queued at shutdown time, so a
// handler that queues a reply (e.g. an ERROR for QUIT) and immediately
// requests shutdown doesn't race its own message off the wire.
func (c *Client) drainWrites() {
	for {
		select {
		case m := <-c.writeChan:
			_ = c.conn.writeMessage(m)
		default:
			return
		}
	}
}

// readLoop reads lines from the connection, parses them, and dispatches
// them to the command handlers until the connection closes, times out, or
// shutdown is requested.
func (c *Client) readLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	defer c.server.removeClient(c)
	defer c.requestShutdown()

	for {
		select {
		case <-c.shutdownChan:
			return
		default:
		}

		line, result, err := c.conn.readLine()
		switch result {
		case readData:
			if line == "" {
				continue
			}
			c.touchActivity()
			c.handleLine(line)
		case readTimeout:
			if dead := c.server.handleClientTimeout(c); dead {
				return
			}
			continue
		case readOverflow:
			log.Printf("client %d: %s", c.ID, err)
			return
		case readClosed:
			return
		case readDecodeError:
			continue
		}
	}
}

func (c *Client) handleLine(line string) {
	msg, err := irc.ParseMessage(line)
	if err != nil {
		log.Printf("client %d: unable to parse line: %s", c.ID, err)
		return
	}
	if msg.Command == "" {
		return
	}

	c.server.dispatch(c, msg)
}
