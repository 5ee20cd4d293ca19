package ircd

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// Server owns the registries and the accept loop. Its clients lock guards
// the client list, the nickname registry, and the channel registry
// together, the same discipline the teacher's Catbox uses for its Nicks,
// Channels and LocalUsers maps: short critical sections that snapshot
// recipients, with the actual network writes happening outside the lock via
// Client.maybeQueueMessage (see spec.md §5).
type Server struct {
	Config Config

	listener net.Listener

	clientsLock sync.RWMutex
	clients     map[uint64]*Client
	nicks       *nicknameRegistry
	channels    *channelRegistry

	disconnects *disconnectTracker

	nextID uint64

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer builds a Server. It does not start listening; call Start for
// that.
func NewServer(cfg Config) *Server {
	return &Server{
		Config:       cfg,
		clients:      make(map[uint64]*Client),
		nicks:        newNicknameRegistry(),
		channels:     newChannelRegistry(),
		disconnects:  newDisconnectTracker(),
		shutdownChan: make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is up; Serve does the actual accept loop and blocks.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.Config.ListenHost, s.Config.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", addr)
	}
	s.listener = ln

	log.Printf("listening on %s", addr)

	s.wg.Add(1)
	go s.sweepLoop()

	return nil
}

// Serve runs the accept loop until the listener closes or shutdown is
// requested. It blocks the calling goroutine.
func (s *Server) Serve() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				return
			default:
			}
			log.Printf("accept error: %s", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

// handleConnection performs admission control, then spins up a Client and
// its read/write goroutines. Grounded on original_source/server.py's
// accept_connection, which checks disconnect_times before doing anything
// else with a new socket.
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	tcpAddr, ok := nc.RemoteAddr().(*net.TCPAddr)
	if ok && s.disconnects.onCooldown(tcpAddr.IP, s.Config.CooldownTime) {
		log.Printf("refusing connection from %s: reconnecting too fast", tcpAddr.IP)
		_ = nc.Close()
		return
	}

	c, err := newConn(nc, s.Config.PingTime)
	if err != nil {
		log.Printf("unable to wrap connection: %s", err)
		_ = nc.Close()
		return
	}

	id := atomic.AddUint64(&s.nextID, 1)
	client := newClient(s, id, c)

	s.clientsLock.Lock()
	s.clients[id] = client
	s.clientsLock.Unlock()

	var clientWG sync.WaitGroup
	clientWG.Add(1)
	go client.writeLoop(&clientWG)

	client.readLoop(&clientWG)
	clientWG.Wait()
}

// removeClient tears a client out of every registry it might be in. Safe to
// call more than once.
func (s *Server) removeClient(c *Client) {
	s.clientsLock.Lock()

	if _, exists := s.clients[c.ID]; !exists {
		s.clientsLock.Unlock()
		return
	}
	delete(s.clients, c.ID)

	if c.NickCanon != "" {
		s.nicks.remove(c.NickCanon)
	}

	var affected [][]*Client
	for chName := range c.Channels {
		if ch, exists := s.channels.get(chName); exists {
			delete(ch.Members, c.ID)
			affected = append(affected, ch.snapshotMembers())
			s.channels.removeIfEmpty(ch)
		}
	}

	s.clientsLock.Unlock()

	s.disconnects.record(c.IP())

	if c.Registered() {
		s.broadcastQuit(c, affected, c.getQuitReason("Connection closed"))
	}
}

// broadcastQuit notifies every co-member of affected channels that c has
// quit. Recipients are snapshotted under the lock by the caller before this
// runs (one member list per channel), so this performs no locking itself.
func (s *Server) broadcastQuit(c *Client, affected [][]*Client, reason string) {
	seen := map[uint64]struct{}{c.ID: {}}
	msg := irc.Message{
		Prefix:  c.nickUhost(),
		Command: "QUIT",
		Params:  []string{reason},
	}

	for _, members := range affected {
		for _, member := range members {
			if _, dup := seen[member.ID]; dup {
				continue
			}
			seen[member.ID] = struct{}{}
			member.maybeQueueMessage(msg)
		}
	}
}

// handleClientTimeout implements the two-stage idle policy: the first
// read timeout after a period of inactivity sends a PING and the read loop
// keeps going; if a second read timeout arrives while a PING is still
// outstanding, the client is dead and handleClientTimeout reports true so
// the caller disconnects it.
func (s *Server) handleClientTimeout(c *Client) bool {
	if c.pingAlreadySent() {
		log.Printf("client %d: ping timeout", c.ID)
		return true
	}

	c.markPingSent()
	c.conn.ioWait = s.Config.DeadTime
	c.maybeQueueMessage(irc.Message{
		Command: "PING",
		Params:  []string{s.Config.ServerName},
	})
	return false
}

// sweepLoop periodically evicts stale disconnect-tracker entries. Grounded
// on original_source/server.py's cleanup_disconnects, which runs on the
// same 30-second cadence.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.disconnects.sweep(s.Config.DisconnectRetention)
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown notifies every connected client, closes the listener, and asks
// all client goroutines to stop. It does not wait for them to finish
// (callers that need that should track their own shutdown deadline).
func (s *Server) Shutdown(reason string) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.clientsLock.RLock()
		clients := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.clientsLock.RUnlock()

		for _, c := range clients {
			c.maybeQueueMessage(irc.Message{
				Command: "NOTICE",
				Params:  []string{"*", "Server shutting down: " + reason},
			})
			c.requestShutdown()
		}

		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// numClients reports the current connection count, for LUSERS.
func (s *Server) numClients() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// numOperators reports how many connected clients hold operator status.
func (s *Server) numOperators() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	n := 0
	for _, c := range s.clients {
		if c.isOperator() {
			n++
		}
	}
	return n
}
