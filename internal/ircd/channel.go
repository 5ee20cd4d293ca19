package ircd

// Channel holds everything to do with a channel.
//
// Unlike the teacher's TS6 Channel, membership is keyed by client ID rather
// than a network-wide unique ID, since this server never links to peers.
type Channel struct {
	// Name is canonicalized (lowercase, leading '#').
	Name string

	// Members holds the clients currently joined. A map gives us set
	// semantics (no duplicates) and cheap membership tests.
	Members map[uint64]*Client

	// Topic is fixed; this server does not support TOPIC (LIST always
	// reports "No topic set", per spec.md §4.4).
	Topic string
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		Members: make(map[uint64]*Client),
	}
}

func (ch *Channel) hasMember(id uint64) bool {
	_, exists := ch.Members[id]
	return exists
}

// snapshotMembers returns the current members as a slice, for delivery
// outside the clients lock (see spec.md §5: "snapshotting the recipient set
// under lock and writing outside the lock").
func (ch *Channel) snapshotMembers() []*Client {
	members := make([]*Client, 0, len(ch.Members))
	for _, c := range ch.Members {
		members = append(members, c)
	}
	return members
}

// channelRegistry maps canonical channel names to Channels. All access must
// happen while holding the owning Server's clients lock.
type channelRegistry struct {
	channels map[string]*Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]*Channel)}
}

// getOrCreate returns the existing channel for name, or creates, inserts,
// and returns a new one. The caller must hold the clients lock.
func (r *channelRegistry) getOrCreate(name string) (ch *Channel, created bool) {
	ch, exists := r.channels[name]
	if exists {
		return ch, false
	}

	ch = newChannel(name)
	r.channels[name] = ch
	return ch, true
}

func (r *channelRegistry) get(name string) (*Channel, bool) {
	ch, exists := r.channels[name]
	return ch, exists
}

// removeIfEmpty deletes a channel once its last member has left. The spec
// leaves this implementation-defined; we prune eagerly so LIST never needs
// to filter out phantom channels (see DESIGN.md's Open Question decision).
func (r *channelRegistry) removeIfEmpty(ch *Channel) {
	if len(ch.Members) == 0 {
		delete(r.channels, ch.Name)
	}
}

// all returns every channel, for LIST and LUSERS.
func (r *channelRegistry) all() []*Channel {
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

func (r *channelRegistry) count() int {
	return len(r.channels)
}
