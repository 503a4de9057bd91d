// Package link speaks the TS6 server protocol on a connection that upgraded
// from a client with PASS.
//
// The peer introduces itself with CAPAB, SERVER and SVINFO. Once SVINFO is
// agreed we burst our users and then relay UID and PRIVMSG in both
// directions.
package link

import (
	"fmt"
	"strings"
	"time"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/metrics"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TSVersion is the only TS protocol version we speak.
const TSVersion = "6"

// MaxClockSkew is how far the peer's clock may be from ours before we warn.
const MaxClockSkew = 60 * time.Second

// ErrProtocolMismatch means the peer does not speak TS6.
var ErrProtocolMismatch = errors.New("unsupported TS version")

// State is what we know about the peer server.
type State struct {
	ServerID     ident.ServerID
	HopCount     int
	Description  string
	Name         string
	Capabilities []string

	// Identified is set after SERVER.
	Identified bool

	// VersionAgreed is set after SVINFO. We relay traffic only after this.
	VersionAgreed bool
}

// Config is how we describe ourselves to peers.
type Config struct {
	ServerID   ident.ServerID
	Hostname   string
	ServerInfo string
}

// Link holds one server link.
//
// It is not safe for concurrent use. The owning session calls it from one
// goroutine.
type Link struct {
	State State

	config     Config
	registries *state.Registries
	logger     *zerolog.Logger

	// bursted holds users we sent in the burst. Their NetworkJoin may still be
	// waiting on the bus and must not go out a second time.
	bursted map[ident.UserID]struct{}

	// early holds NetworkJoins seen before the handshake finished. The user
	// may not be in Local Users yet when we burst, so we go through these
	// after the burst.
	early []bus.NetworkJoin

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a Link. The peer is unknown until it sends SERVER.
func New(
	config Config,
	registries *state.Registries,
	logger *zerolog.Logger,
) *Link {
	return &Link{
		config:     config,
		registries: registries,
		logger:     logger,
		bursted:    map[ident.UserID]struct{}{},
		now:        time.Now,
	}
}

func (l *Link) String() string {
	if !l.State.Identified {
		return "unidentified server"
	}
	return fmt.Sprintf("%s (%s)", l.State.Name, l.State.ServerID)
}

// Ready reports whether the handshake completed.
func (l *Link) Ready() bool {
	return l.State.VersionAgreed
}

type handler func(l *Link, c command.Command) ([]command.Action, error)

var handlers = map[string]handler{
	"CAPAB":   (*Link).capabCommand,
	"ERROR":   (*Link).errorCommand,
	"PING":    (*Link).pingCommand,
	"PONG":    (*Link).pongCommand,
	"PRIVMSG": (*Link).privmsgCommand,
	"SERVER":  (*Link).serverCommand,
	"SVINFO":  (*Link).svinfoCommand,
	"UID":     (*Link).uidCommand,
}

// Handle runs one command from the peer.
//
// An error means the link must be closed. Commands we don't know are logged
// and ignored.
func (l *Link) Handle(c command.Command) ([]command.Action, error) {
	name := strings.ToUpper(c.Name)

	h, exists := handlers[name]
	if !exists {
		l.logger.Warn().Str("command", name).Strs("args", c.Args).
			Msg("ignoring unknown command from server")
		return nil, nil
	}

	metrics.RecordCommand("link", name)
	return h(l, c)
}

func sendText(messages ...irc.Message) []command.Action {
	actions := make([]command.Action, 0, len(messages))
	for _, m := range messages {
		actions = append(actions, command.SendText{Message: m})
	}
	return actions
}
