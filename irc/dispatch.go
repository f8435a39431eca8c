package irc

import (
	"strings"

	"github.com/mdevlamynck/lircd/metrics"
)

// knownCommands is the full RFC 2812 command vocabulary.
// A command token not in this set is reported with the "Unknown
// command" text; a token that is in this set but has no entry in
// handlers is reported with "Unknown command, not implemented yet"
// instead — both use UNKNOWNCOMMAND (421), matching the two-tier
// distinction the Rust original draws between the two cases.
var knownCommands = map[string]bool{
	"PASS": true, "NICK": true, "USER": true, "OPER": true, "MODE": true,
	"SERVICE": true, "QUIT": true, "SQUIT": true, "JOIN": true, "PART": true,
	"TOPIC": true, "NAMES": true, "LIST": true, "INVITE": true, "KICK": true,
	"PRIVMSG": true, "NOTICE": true, "MOTD": true, "LUSERS": true, "VERSION": true,
	"STATS": true, "LINKS": true, "TIME": true, "CONNECT": true, "TRACE": true,
	"ADMIN": true, "INFO": true, "SERVLIST": true, "SQUERY": true, "WHO": true,
	"WHOIS": true, "WHOWAS": true, "KILL": true, "PING": true, "PONG": true,
	"ERROR": true, "AWAY": true, "REHASH": true, "DIE": true, "RESTART": true,
	"SUMMON": true, "USERS": true, "WALLOPS": true, "USERHOST": true, "ISON": true,
	"SERVER": true,
}

// handlerFunc processes one parsed client command against shared state.
// Its bool return signals whether the connection should now be closed,
// so callers never need to re-inspect msg.Command to find out.
type handlerFunc func(d *Dispatcher, conn *ConnState, msg Message) (closeConn bool)

// handlers holds every command this implementation actually carries
// out: PASS, NICK, USER, QUIT, MODE. Every other known command
// (JOIN, PART, PRIVMSG, NOTICE, PING, PONG, MOTD, WHO, WHOIS, and the
// rest of knownCommands) is deliberately left unregistered, so Dispatch
// reports it with the not-implemented-yet 421 rather than dispatching
// it — the Rust original stubs every one of these out with
// unimplemented_command too.
var handlers = map[string]handlerFunc{}

func registerHandler(cmd string, h handlerFunc) {
	handlers[cmd] = h
}

func init() {
	registerHandler("PASS", handlePass)
	registerHandler("NICK", handleNick)
	registerHandler("USER", handleUser)
	registerHandler("QUIT", handleQuit)
	registerHandler("MODE", handleMode)
}

// Dispatcher routes parsed messages from registered connections to
// their handlers against one shared GlobalState. It mirrors the goms
// verb-map dispatch shape (a command string looked up in a table of
// funcs), generalised from SMTP's fixed verb set to IRC's much larger
// one.
type Dispatcher struct {
	State   *GlobalState
	Metrics *metrics.Registry
}

// NewDispatcher builds a Dispatcher over g, recording command counts to m.
func NewDispatcher(g *GlobalState, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{State: g, Metrics: m}
}

// Dispatch routes msg to its handler, or emits the appropriate 421 if
// none applies. The command token shown back to the
// sender in a 421 is the one as received, not the uppercased form used
// for the handler lookup. Its bool return reports whether the caller
// should now close the connection.
func (d *Dispatcher) Dispatch(conn *ConnState, msg Message) bool {
	cmd := strings.ToUpper(msg.Command)

	if d.Metrics != nil {
		d.Metrics.CommandsTotal.WithLabelValues(cmd).Inc()
	}

	if !knownCommands[cmd] {
		d.reply(conn, UNKNOWNCOMMAND, []string{msg.Command}, "Unknown command")
		return false
	}

	h, ok := handlers[cmd]
	if !ok {
		d.reply(conn, UNKNOWNCOMMAND, []string{msg.Command}, "Unknown command, not implemented yet")
		return false
	}

	return h(d, conn, msg)
}

// reply writes one numeric reply line to conn, from the configured
// server hostname: "<hostname> <code> <params...> :<trailing>\r\n".
// Unlike a fully RFC-2812-compliant server this does not inject the
// recipient's nickname as a leading parameter; callers pass exactly
// the params the situation calls for.
func (d *Dispatcher) reply(conn *ConnState, code string, params []string, trailing string) {
	args := make([]string, 0, len(params)+1)
	args = append(args, params...)
	args = append(args, trailing)

	out := Message{Prefix: d.State.Config().Network.Hostname, Command: code, Arguments: args}
	conn.Writer.WriteLine(out.Format())
}

func handlePass(d *Dispatcher, conn *ConnState, msg Message) bool {
	if conn.Snapshot().Kind != KindUnknown {
		d.reply(conn, ALREADYREGISTERED, nil, "Unauthorized command (already registered)")
		return false
	}
	// The password is deliberately never checked against the
	// configured one: accept and discard it.
	return false
}

func handleNick(d *Dispatcher, conn *ConnState, msg Message) bool {
	if len(msg.Arguments) < 1 || msg.Arguments[0] == "" {
		d.reply(conn, NEEDMOREPARAMS, []string{"NICK"}, "Not enough parameters")
		return false
	}
	newNick := msg.Arguments[0]
	snap := conn.Snapshot()

	if snap.Kind == KindUnknown {
		conn.PromoteToClient()
		if err := d.State.RegisterNickname(newNick, conn); err != nil {
			d.reply(conn, NICKNAMEINUSE, []string{newNick}, "Nickname is already in use")
			return false
		}
		conn.SetNickname(newNick)
		return false
	}

	if snap.Nickname == newNick {
		return false
	}

	// Renaming an already-registered connection is deliberately not
	// broadcast to fellow channel members, unlike a compliant server.
	// TODO: broadcast NICK to every channel conn shares membership in,
	// once this non-broadcast quirk is revisited.
	if err := d.State.ReplaceNickname(snap.Nickname, newNick, conn); err != nil {
		d.reply(conn, NICKNAMEINUSE, []string{newNick}, "Nickname is already in use")
		return false
	}
	conn.SetNickname(newNick)
	return false
}

// handleUser promotes the connection to Client if needed, records
// username/realname, and always sends the 001 welcome — even if no
// NICK has been sent yet, which then addresses the welcome to an empty
// nickname. This is a known quirk of the original daemon, preserved
// rather than fixed.
func handleUser(d *Dispatcher, conn *ConnState, msg Message) bool {
	if len(msg.Arguments) < 4 {
		d.reply(conn, NEEDMOREPARAMS, []string{"USER"}, "Not enough parameters")
		return false
	}

	conn.PromoteToClient()
	conn.SetUser(msg.Arguments[0], msg.Arguments[3])

	cfg := d.State.Config()
	d.reply(conn, WELCOME, nil, cfg.IRC.Welcome)
	return false
}

// handleQuit writes a literal "ERROR" line to the quitting client, tears
// down its channel memberships and nickname registration, and always
// signals the caller to close the connection.
func handleQuit(d *Dispatcher, conn *ConnState, msg Message) bool {
	snap := conn.Snapshot()

	conn.Writer.WriteLine("ERROR")

	if snap.Kind != KindClient || snap.Nickname == "" {
		return true
	}

	reason := "Client Quit"
	if len(msg.Arguments) > 0 {
		reason = msg.Arguments[len(msg.Arguments)-1]
	}

	quitLine := Message{Prefix: snap.Nickname, Command: "QUIT", Arguments: []string{reason}}.Format()
	for _, name := range conn.ChannelsSnapshot() {
		if ch, ok := d.State.Channel(name); ok {
			d.State.Broadcast(ch, snap.Nickname, quitLine)
		}
		d.State.PartChannel(name, snap.Nickname)
		conn.RemoveChannel(name)
	}
	d.State.UnregisterNickname(snap.Nickname)
	return true
}

// handleMode routes on arguments[0] rather than the command token
// itself, fixing the original daemon's bug of branching on
// message.command for a command that is always literally "MODE": a
// leading '#' means a channel mode request, anything else a user mode
// request.
func handleMode(d *Dispatcher, conn *ConnState, msg Message) bool {
	if len(msg.Arguments) < 1 {
		d.reply(conn, NEEDMOREPARAMS, []string{"MODE"}, "Not enough parameters")
		return false
	}

	target := msg.Arguments[0]
	if strings.HasPrefix(target, "#") {
		ch, ok := d.State.Channel(target)
		if !ok {
			d.reply(conn, NOSUCHCHANNEL, []string{target}, "No such channel")
			return false
		}
		operator, _ := ch.Snapshot()
		d.reply(conn, CHANNELMODEIS, []string{target, "+"}, "operator: "+operator)
		return false
	}

	d.reply(conn, UMODEIS, []string{"+"}, "")
	return false
}
