package ircd

import (
	"fmt"
	"strings"

	"github.com/horgh/irc"
)

// Numeric reply codes used by this server, per spec.md §6.
const (
	rplWelcome       = "001"
	rplYourHost      = "002"
	rplCreated       = "003"
	rplMyInfo        = "004"
	rplLUserClient   = "251"
	rplLUserOp       = "252"
	rplLUserChannels = "254"
	rplLUserMe       = "255"
	rplEndOfWho      = "315"
	rplList          = "322"
	rplListEnd       = "323"
	rplWhoReply      = "352"
	rplNameReply     = "353"
	rplEndOfNames    = "366"
	rplMotd          = "372"
	rplMotdStart     = "375"
	rplEndOfMotd     = "376"

	rplUModeIs = "221"

	errNoSuchNick      = "401"
	errNoSuchChannel   = "403"
	errCannotSendToChan = "404"
	errUnknownCommand  = "421"
	errNoTextToSend    = "412"
	errErroneousNick   = "432"
	errNicknameInUse   = "433"
	errNotOnChannel    = "442"
	errNotRegistered   = "451"
	errNeedMoreParams  = "461"
	errAlreadyRegistered = "462"
	errUnknownMode     = "472"
	errUmodeUnknownFlag = "501"
	errUsersDontMatch  = "502"
)

// dispatch routes a parsed message to its handler. Unregistered clients may
// only use the registration-related commands; everything else gets 451
// before registration, matching spec.md's Connection State Machine.
func (s *Server) dispatch(c *Client, msg irc.Message) {
	cmd := strings.ToUpper(msg.Command)

	if !c.Registered() {
		switch cmd {
		case "CAP", "NICK", "USER", "PING", "PONG", "QUIT":
		default:
			s.reply(c, errNotRegistered, "*", "You have not registered")
			return
		}
	}

	switch cmd {
	case "CAP":
		s.capCommand(c, msg)
	case "NICK":
		s.nickCommand(c, msg)
	case "USER":
		s.userCommand(c, msg)
	case "PING":
		s.pingCommand(c, msg)
	case "PONG":
		// We don't currently send PING-and-wait challenges that need
		// matching, so PONG is simply accepted as activity (already recorded
		// by touchActivity in the read loop).
	case "JOIN":
		s.joinCommand(c, msg)
	case "PART":
		s.partCommand(c, msg)
	case "PRIVMSG", "NOTICE":
		s.privmsgCommand(c, msg)
	case "QUIT":
		s.quitCommand(c, msg)
	case "WHO":
		s.whoCommand(c, msg)
	case "MODE":
		s.modeCommand(c, msg)
	case "LIST":
		s.listCommand(c, msg)
	case "LUSERS":
		s.lusersCommand(c, msg)
	case "MOTD":
		s.motdCommand(c, msg)
	case "KICK", "TOPIC", "WHOIS", "OPER":
		s.reply(c, errUsersDontMatch, cmd, "Command not supported by this server")
	default:
		s.reply(c, errUnknownCommand, cmd, "Unknown command")
	}
}

// reply sends a single numeric reply to c, with c's current nick (or "*"
// before registration) as the first parameter, per RFC client-prefix
// convention.
func (s *Server) reply(c *Client, numeric string, params ...string) {
	target := c.Nick
	if target == "" {
		target = "*"
	}

	c.maybeQueueMessage(irc.Message{
		Prefix:  s.Config.ServerName,
		Command: numeric,
		Params:  append([]string{target}, params...),
	})
}

func (s *Server) capCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 {
		return
	}

	switch strings.ToUpper(msg.Params[0]) {
	case "LS":
		c.maybeQueueMessage(irc.Message{
			Prefix:  s.Config.ServerName,
			Command: "CAP",
			Params:  []string{"*", "LS", ""},
		})
	case "END":
		// Nothing to finalize: we don't negotiate any capabilities.
	}
}

func (s *Server) pingCommand(c *Client, msg irc.Message) {
	token := s.Config.ServerName
	if len(msg.Params) > 0 {
		token = msg.Params[0]
	}
	c.maybeQueueMessage(irc.Message{
		Prefix:  s.Config.ServerName,
		Command: "PONG",
		Params:  []string{s.Config.ServerName, token},
	})
}

func (s *Server) nickCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		s.reply(c, errNeedMoreParams, "NICK", "Not enough parameters")
		return
	}

	nick := msg.Params[0]
	if !isValidNick(s.Config.MaxNickLength, nick) {
		s.reply(c, errErroneousNick, nick, "Erroneous nickname")
		return
	}
	nickCanon := canonicalizeNick(nick)

	s.clientsLock.Lock()

	if holder, taken := s.nicks.get(nickCanon); taken && holder != c {
		s.clientsLock.Unlock()
		s.reply(c, errNicknameInUse, nick, "Nickname is already in use")
		return
	}

	oldCanon := c.NickCanon
	oldNick := c.Nick
	wasRegistered := c.Registered()

	if oldCanon != "" {
		s.nicks.rename(oldCanon, nickCanon, c)
	} else {
		s.nicks.add(nickCanon, c)
	}
	c.Nick = nick
	c.NickCanon = nickCanon
	c.gotNick = true

	shouldRegister := !wasRegistered && c.gotNick && c.gotUser
	if shouldRegister {
		c.state = stateRegistered
	}

	var recipients []*Client
	if wasRegistered {
		for _, other := range s.clients {
			if other.ID != c.ID {
				recipients = append(recipients, other)
			}
		}
	}

	s.clientsLock.Unlock()

	if wasRegistered {
		notice := irc.Message{
			Prefix:  oldNick + "!" + c.User + "@" + c.Hostname,
			Command: "NICK",
			Params:  []string{nick},
		}
		c.maybeQueueMessage(notice)
		for _, other := range recipients {
			other.maybeQueueMessage(notice)
		}
	}

	if shouldRegister {
		s.welcome(c)
	}
}

func (s *Server) userCommand(c *Client, msg irc.Message) {
	if c.Registered() {
		s.reply(c, errAlreadyRegistered, "Unauthorized command (already registered)")
		return
	}

	if len(msg.Params) < 4 {
		s.reply(c, errNeedMoreParams, "USER", "Not enough parameters")
		return
	}

	user := msg.Params[0]
	if !isValidUser(user) {
		s.reply(c, errNeedMoreParams, "USER", "Invalid username")
		return
	}

	s.clientsLock.Lock()
	c.User = user
	c.RealName = msg.Params[3]
	c.gotUser = true
	shouldRegister := !c.Registered() && c.gotNick && c.gotUser
	if shouldRegister {
		c.state = stateRegistered
	}
	s.clientsLock.Unlock()

	if shouldRegister {
		s.welcome(c)
	}
}

// welcome sends the post-registration burst: 001-004, LUSERS, and the MOTD.
// Grounded on local_client.go's registerUser, trimmed to single-server
// semantics (no server-to-server announcement, no default channel join).
func (s *Server) welcome(c *Client) {
	s.reply(c, rplWelcome, fmt.Sprintf("Welcome to the Internet Relay Network %s", c.nickUhost()))
	s.reply(c, rplYourHost, fmt.Sprintf("Your host is %s, running version %s", s.Config.ServerName, s.Config.Version))
	s.reply(c, rplCreated, fmt.Sprintf("This server was created %s", s.Config.CreatedDate))
	s.reply(c, rplMyInfo, s.Config.ServerName, s.Config.Version, "i", "o")

	s.lusersCommand(c, irc.Message{})
	s.motdCommand(c, irc.Message{})

	s.clientsLock.Lock()
	c.Modes['i'] = struct{}{}
	s.clientsLock.Unlock()
}

func (s *Server) quitCommand(c *Client, msg irc.Message) {
	reason := c.Nick + " has quit"
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		reason = msg.Params[0]
	}
	c.setQuitReason(reason)
	c.maybeQueueMessage(irc.Message{Command: "ERROR", Params: []string{"Closing link: " + reason}})
	c.requestShutdown()
}

func (s *Server) joinCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		s.reply(c, errNeedMoreParams, "JOIN", "Not enough parameters")
		return
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		s.joinOne(c, name)
	}
}

func (s *Server) joinOne(c *Client, name string) {
	if !strings.HasPrefix(name, "#") {
		s.reply(c, errNeedMoreParams, "JOIN", "Channel name must start with #")
		return
	}
	if !isValidChannel(name) {
		s.reply(c, errNoSuchChannel, name, "No such channel")
		return
	}
	canon := canonicalizeChannel(name)

	s.clientsLock.Lock()

	if _, already := c.Channels[canon]; already {
		s.clientsLock.Unlock()
		return
	}

	ch, _ := s.channels.getOrCreate(canon)
	ch.Members[c.ID] = c
	c.Channels[canon] = struct{}{}

	others := ch.snapshotMembers()
	s.clientsLock.Unlock()

	joinMsg := irc.Message{Prefix: c.nickUhost(), Command: "JOIN", Params: []string{name}}
	for _, member := range others {
		member.maybeQueueMessage(joinMsg)
	}

	names := make([]string, 0, len(others))
	for _, member := range others {
		names = append(names, member.Nick)
	}
	s.reply(c, rplNameReply, "=", name, strings.Join(names, " "))
	s.reply(c, rplEndOfNames, name, "End of /NAMES list")
}

func (s *Server) partCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		s.reply(c, errNeedMoreParams, "PART", "Not enough parameters")
		return
	}

	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		s.partOne(c, name, reason)
	}
}

func (s *Server) partOne(c *Client, name, reason string) {
	canon := canonicalizeChannel(name)

	s.clientsLock.Lock()
	ch, exists := s.channels.get(canon)
	if !exists || !ch.hasMember(c.ID) {
		s.clientsLock.Unlock()
		s.reply(c, errNoSuchChannel, name, "You're not on that channel")
		return
	}

	others := ch.snapshotMembers()
	delete(ch.Members, c.ID)
	delete(c.Channels, canon)
	s.channels.removeIfEmpty(ch)
	s.clientsLock.Unlock()

	params := []string{name}
	if reason != "" {
		params = append(params, reason)
	}
	partMsg := irc.Message{Prefix: c.nickUhost(), Command: "PART", Params: params}

	c.maybeQueueMessage(partMsg)
	for _, member := range others {
		if member.ID == c.ID {
			continue
		}
		member.maybeQueueMessage(partMsg)
	}
}

func (s *Server) privmsgCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		s.reply(c, errNeedMoreParams, msg.Command, "Not enough parameters")
		return
	}
	if len(msg.Params) < 2 || msg.Params[1] == "" {
		s.reply(c, errNoTextToSend, "No text to send")
		return
	}

	target := msg.Params[0]
	text := msg.Params[1]
	if len(text) > irc.MaxLineLength {
		text = text[:irc.MaxLineLength]
	}

	out := irc.Message{Prefix: c.nickUhost(), Command: msg.Command, Params: []string{target, text}}

	if strings.HasPrefix(target, "#") {
		s.sendToChannel(c, target, out)
		return
	}

	if canonicalizeNick(target) == c.NickCanon {
		s.reply(c, errNoSuchNick, target, "No such nick/channel")
		return
	}

	s.clientsLock.RLock()
	recipient, exists := s.nicks.get(canonicalizeNick(target))
	s.clientsLock.RUnlock()

	if !exists {
		s.reply(c, errNoSuchNick, target, "No such nick/channel")
		return
	}
	recipient.maybeQueueMessage(out)
}

func (s *Server) sendToChannel(c *Client, name string, out irc.Message) {
	canon := canonicalizeChannel(name)

	s.clientsLock.RLock()
	ch, exists := s.channels.get(canon)
	if !exists {
		s.clientsLock.RUnlock()
		s.reply(c, errNoSuchChannel, name, "No such channel")
		return
	}
	if !ch.hasMember(c.ID) {
		s.clientsLock.RUnlock()
		s.reply(c, errCannotSendToChan, name, "Cannot send to channel")
		return
	}
	recipients := ch.snapshotMembers()
	s.clientsLock.RUnlock()

	for _, member := range recipients {
		if member.ID == c.ID {
			continue
		}
		member.maybeQueueMessage(out)
	}
}

func (s *Server) whoCommand(c *Client, msg irc.Message) {
	var mask string
	if len(msg.Params) > 0 {
		mask = msg.Params[0]
	}

	var members []*Client
	s.clientsLock.RLock()
	if strings.HasPrefix(mask, "#") {
		if ch, exists := s.channels.get(canonicalizeChannel(mask)); exists {
			members = ch.snapshotMembers()
		}
	} else {
		for _, other := range s.clients {
			members = append(members, other)
		}
	}
	s.clientsLock.RUnlock()

	for _, member := range members {
		flags := "H"
		if member.isOperator() {
			flags += "*"
		}
		s.reply(c, rplWhoReply, mask, member.User, member.Hostname, s.Config.ServerName,
			member.Nick, flags, "0 "+member.RealName)
	}
	s.reply(c, rplEndOfWho, mask, "End of /WHO list")
}

func (s *Server) modeCommand(c *Client, msg irc.Message) {
	if len(msg.Params) == 0 {
		s.reply(c, errNeedMoreParams, "MODE", "Not enough parameters")
		return
	}

	target := msg.Params[0]
	if strings.HasPrefix(target, "#") {
		s.channelModeCommand(c, msg)
		return
	}

	s.userModeCommand(c, msg)
}

// userModeCommand implements MODE against a nickname. A client may only
// query or change its own modes; spec.md §4.4 supports querying the current
// mode set (221), and setting or clearing the operator flag (+o/-o, also
// replying 221). Any other flag is rejected with 501.
func (s *Server) userModeCommand(c *Client, msg irc.Message) {
	target := msg.Params[0]

	if canonicalizeNick(target) != c.NickCanon {
		s.reply(c, errUsersDontMatch, "Cannot change mode for other users")
		return
	}

	if len(msg.Params) == 1 {
		s.reply(c, rplUModeIs, c.modesString())
		return
	}

	flags := msg.Params[1]
	if len(flags) < 2 || (flags[0] != '+' && flags[0] != '-') {
		s.reply(c, errUmodeUnknownFlag, "Unknown MODE flag")
		return
	}

	adding := flags[0] == '+'
	for _, ch := range flags[1:] {
		if ch != 'o' {
			s.reply(c, errUmodeUnknownFlag, "Unknown MODE flag")
			return
		}
	}

	s.clientsLock.Lock()
	if adding {
		c.Modes['o'] = struct{}{}
	} else {
		delete(c.Modes, 'o')
	}
	s.clientsLock.Unlock()

	s.reply(c, rplUModeIs, c.modesString())
}

func (s *Server) channelModeCommand(c *Client, msg irc.Message) {
	name := msg.Params[0]
	canon := canonicalizeChannel(name)

	s.clientsLock.RLock()
	ch, exists := s.channels.get(canon)
	s.clientsLock.RUnlock()

	if !exists {
		s.reply(c, errNoSuchChannel, name, "No such channel")
		return
	}

	if len(msg.Params) == 1 {
		s.reply(c, "324", name, "+")
		return
	}

	_ = ch
	s.reply(c, errUmodeUnknownFlag, "Unknown MODE flag")
}

func (s *Server) listCommand(c *Client, msg irc.Message) {
	s.clientsLock.RLock()
	chans := s.channels.all()
	type row struct {
		name  string
		count int
	}
	rows := make([]row, 0, len(chans))
	for _, ch := range chans {
		rows = append(rows, row{ch.Name, len(ch.Members)})
	}
	s.clientsLock.RUnlock()

	for _, r := range rows {
		s.reply(c, rplList, r.name, fmt.Sprintf("%d", r.count), "No topic set")
	}
	s.reply(c, rplListEnd, "End of /LIST")
}

func (s *Server) lusersCommand(c *Client, msg irc.Message) {
	numClients := s.numClients()
	numOps := s.numOperators()
	s.clientsLock.RLock()
	numChannels := s.channels.count()
	s.clientsLock.RUnlock()

	s.reply(c, rplLUserClient, fmt.Sprintf("There are %d users and 0 invisible on 1 server", numClients))
	s.reply(c, rplLUserOp, fmt.Sprintf("%d", numOps), "operator(s) online")
	s.reply(c, rplLUserChannels, fmt.Sprintf("%d", numChannels), "channels formed")
	s.reply(c, rplLUserMe, fmt.Sprintf("I have %d clients and 1 server", numClients))
}

func (s *Server) motdCommand(c *Client, msg irc.Message) {
	s.reply(c, rplMotdStart, fmt.Sprintf("- %s Message of the day -", s.Config.ServerName))
	for _, line := range strings.Split(s.Config.MOTD, "\n") {
		s.reply(c, rplMotd, "- "+line)
	}
	s.reply(c, rplEndOfMotd, "End of /MOTD command")
}

// collectCoMembers returns every other client sharing a channel with c.
// Caller must hold the clients lock.
func (s *Server) collectCoMembers(c *Client) []*Client {
	seen := map[uint64]struct{}{c.ID: {}}
	var out []*Client
	for chName := range c.Channels {
		ch, exists := s.channels.get(chName)
		if !exists {
			continue
		}
		for _, member := range ch.Members {
			if _, dup := seen[member.ID]; dup {
				continue
			}
			seen[member.ID] = struct{}{}
			out = append(out, member)
		}
	}
	return out
}
