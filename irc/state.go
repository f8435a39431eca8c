package irc

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mdevlamynck/lircd/config"
)

// ErrNicknameInUse is returned by GlobalState.RegisterNickname when the
// requested nickname already maps to a live connection.
var ErrNicknameInUse = errors.New("irc: nickname in use")

// Writer is the thread-safe handle to the write half of a connection's
// stream. It is shared between the owning ConnState and any handler
// that fans a reply out to this recipient, which is why it is guarded
// by its own mutex rather than the connection's: a handler
// broadcasting to N other connections must never hold a single global
// lock across N socket writes.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter wraps the write half of a stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine writes line with a CRLF terminator and flushes immediately.
// Output is always CRLF-terminated regardless of what was accepted on
// input.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.WriteString(line); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// Kind tags the three shapes a ConnState can take:
// exactly one of Unknown, Client, Server, transitioning at most once
// out of Unknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindClient
	KindServer
)

// ConnState is the per-connection registration state: the tagged
// Unknown|Client|Server variant. It is owned by the connection's
// driver goroutine and guarded by its own mutex because a command
// handler may mutate it (e.g. NICK, USER) while the driver still holds
// a reference to it.
type ConnState struct {
	mu sync.Mutex

	ID     string // opaque per-connection correlation id (e.g. a uuid)
	Kind   Kind
	Writer *Writer

	// valid once Kind == KindClient
	Nickname string
	Username string
	Realname string

	// valid once Kind == KindServer
	ServerName string

	channels map[string]bool
}

// NewConnState returns a fresh Unknown connection wrapping w.
func NewConnState(id string, w *Writer) *ConnState {
	return &ConnState{ID: id, Kind: KindUnknown, Writer: w, channels: make(map[string]bool)}
}

// AddChannel records that c has joined name.
func (c *ConnState) AddChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = true
}

// RemoveChannel records that c has left name.
func (c *ConnState) RemoveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// ChannelsSnapshot returns the names of every channel c currently
// believes itself a member of.
func (c *ConnState) ChannelsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

// PromoteToClient transitions an Unknown connection into a Client with
// empty username/realname, as NICK does on its own. It is a no-op if
// the connection is already a Client.
func (c *ConnState) PromoteToClient() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Kind == KindUnknown {
		c.Kind = KindClient
	}
}

// SetNickname records nick on a Client connection.
func (c *ConnState) SetNickname(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Nickname = nick
}

// SetUser records username/realname on a Client connection.
func (c *ConnState) SetUser(username, realname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Username = username
	c.Realname = realname
}

// Snapshot returns a value copy of the fields handlers read most often,
// taken under the connection's lock.
type ConnSnapshot struct {
	Kind     Kind
	Nickname string
	Username string
	Realname string
}

// Snapshot takes a consistent point-in-time read of c.
func (c *ConnState) Snapshot() ConnSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnSnapshot{Kind: c.Kind, Nickname: c.Nickname, Username: c.Username, Realname: c.Realname}
}

// Channel is a named multi-party room. Its Members set is never empty
// while the Channel exists in GlobalState.channels: the last member
// parting (or quitting) destroys the Channel.
type Channel struct {
	mu sync.Mutex

	Name     string
	Operator string          // nickname of the channel's operator
	Members  map[string]bool // set of member nicknames
}

// Snapshot returns the channel's operator and a copy of its member set.
func (ch *Channel) Snapshot() (operator string, members []string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	members = make([]string, 0, len(ch.Members))
	for m := range ch.Members {
		members = append(members, m)
	}
	return ch.Operator, members
}

// GlobalState is the process-wide shared store: the nickname→connection
// map, the channel-name→Channel map, and the current config snapshot.
// It is guarded by a single reader/writer lock; fine-grained
// per-collection locks are a later optimisation the current invariants
// permit but do not require.
//
// Lock ordering is always GlobalState → Channel → Writer;
// GlobalState's lock is never held across a socket write.
type GlobalState struct {
	mu       sync.RWMutex
	users    map[string]*ConnState
	channels map[string]*Channel

	config atomic.Value // holds *config.Config
}

// NewGlobalState builds an empty GlobalState seeded with cfg.
func NewGlobalState(cfg *config.Config) *GlobalState {
	g := &GlobalState{
		users:    make(map[string]*ConnState),
		channels: make(map[string]*Channel),
	}
	g.config.Store(cfg)
	return g
}

// Config returns the currently active configuration snapshot.
func (g *GlobalState) Config() *config.Config {
	return g.config.Load().(*config.Config)
}

// SetConfig atomically replaces the configuration snapshot (the SIGHUP
// reload path): existing connections see it on their next read, no
// lock is taken across the swap.
func (g *GlobalState) SetConfig(cfg *config.Config) {
	g.config.Store(cfg)
}

// RegisterNickname claims nick for conn. It fails with ErrNicknameInUse
// if the nickname already maps to a connection.
func (g *GlobalState) RegisterNickname(nick string, conn *ConnState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.users[nick]; exists {
		return ErrNicknameInUse
	}
	g.users[nick] = conn
	return nil
}

// ReplaceNickname atomically moves a registration from oldNick to
// newNick for conn, used when an already-registered client renames
// itself via NICK. It fails with ErrNicknameInUse if newNick is already
// taken by a different connection.
func (g *GlobalState) ReplaceNickname(oldNick, newNick string, conn *ConnState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, exists := g.users[newNick]; exists && existing != conn {
		return ErrNicknameInUse
	}
	delete(g.users, oldNick)
	g.users[newNick] = conn
	return nil
}

// UnregisterNickname removes nick from the table. It is idempotent: an
// absent nickname is a no-op.
func (g *GlobalState) UnregisterNickname(nick string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.users, nick)
}

// Lookup returns the connection registered for nick, if any.
func (g *GlobalState) Lookup(nick string) (*ConnState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.users[nick]
	return c, ok
}

// JoinChannel adds nick to the named channel, creating it (with nick as
// its first operator) if it does not yet exist.
func (g *GlobalState) JoinChannel(name, nick string) *Channel {
	g.mu.Lock()
	ch, exists := g.channels[name]
	if !exists {
		ch = &Channel{Name: name, Operator: nick, Members: make(map[string]bool)}
		g.channels[name] = ch
	}
	g.mu.Unlock()

	ch.mu.Lock()
	ch.Members[nick] = true
	ch.mu.Unlock()

	return ch
}

// PartChannel removes nick from the named channel. If nick was the
// last member, the channel is destroyed.
func (g *GlobalState) PartChannel(name, nick string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, exists := g.channels[name]
	if !exists {
		return
	}

	ch.mu.Lock()
	delete(ch.Members, nick)
	empty := len(ch.Members) == 0
	if !empty && ch.Operator == nick {
		for m := range ch.Members {
			ch.Operator = m
			break
		}
	}
	ch.mu.Unlock()

	if empty {
		delete(g.channels, name)
	}
}

// Channel returns the named channel, if it exists.
func (g *GlobalState) Channel(name string) (*Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch, ok := g.channels[name]
	return ch, ok
}

// Broadcast writes line to every member of ch except skip (typically
// the sender, which already knows what it sent). Per-recipient write
// failures are not reported to the caller: the recipient is dropped
// from the channel and the call otherwise succeeds.
// GlobalState's lock is never held while writing to a socket.
func (g *GlobalState) Broadcast(ch *Channel, skip string, line string) {
	_, members := ch.Snapshot()
	for _, nick := range members {
		if nick == skip {
			continue
		}
		conn, ok := g.Lookup(nick)
		if !ok {
			continue
		}
		if err := conn.Writer.WriteLine(line); err != nil {
			g.PartChannel(ch.Name, nick)
			g.UnregisterNickname(nick)
		}
	}
}
