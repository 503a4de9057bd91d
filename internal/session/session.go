// Package session runs one connection: a client that may register as a user,
// or upgrade to a server link.
package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/link"
	"github.com/horgh/relayd/internal/metrics"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultSendQueueLength is how many lines may wait to be written to a
// connection before we give up on it.
//
// Make the buffer large enough that it should only max out in case of
// connection issues.
const DefaultSendQueueLength = 32768

// DefaultWriteTimeout is how long a single write may take.
const DefaultWriteTimeout = 30 * time.Second

// Config describes this server to sessions.
type Config struct {
	ServerID    ident.ServerID
	Hostname    string
	ServerInfo  string
	NetworkName string
	Version     string

	Secrets command.Secrets

	WriteTimeout    time.Duration
	SendQueueLength int
}

// Services are shared by every session. Create one set per process.
type Services struct {
	Config     Config
	Registries *state.Registries
	Bus        *bus.Bus
	Allocator  *ident.Allocator
	Dispatcher *command.Dispatcher
	Logger     *zerolog.Logger
}

// State is where a session is in its life.
type State int32

const (
	// Unregistered is a client that has not completed NICK and USER.
	Unregistered State = iota

	// ClientActive is a registered user.
	ClientActive

	// ServerLinkActive is a connection that upgraded with PASS.
	ServerLinkActive

	// Closed is a finished session.
	Closed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case ClientActive:
		return "client"
	case ServerLinkActive:
		return "server link"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// role is either clientRole or linkRole. A session starts as a client and
// may be promoted to a link once.
type role interface {
	name() string
}

type clientRole struct{}

type linkRole struct {
	link *link.Link
}

func (clientRole) name() string { return "client" }
func (linkRole) name() string   { return "link" }

// Session holds state about one connection.
type Session struct {
	// Locally unique identifier.
	ID uint64

	conn     Conn
	services *Services
	config   Config
	logger   zerolog.Logger

	// writeChan is the channel to send to to write to the connection.
	writeChan chan irc.Message

	// Track if we overflow our send queue. If we do, we'll kill the
	// connection.
	sendQueueExceeded bool

	user     state.User
	role     role
	receiver *bus.Receiver

	// closing is set when we decided to end the session.
	closing bool

	state atomic.Int32
}

// New creates a Session for an accepted connection.
func New(id uint64, conn net.Conn, services *Services) *Session {
	config := services.Config
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.SendQueueLength <= 0 {
		config.SendQueueLength = DefaultSendQueueLength
	}

	s := &Session{
		ID:        id,
		conn:      NewConn(conn, config.WriteTimeout),
		services:  services,
		config:    config,
		writeChan: make(chan irc.Message, config.SendQueueLength),
		role:      clientRole{},
	}

	s.logger = services.Logger.With().
		Uint64("conn", id).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	s.user.Hostname = s.conn.IP
	s.user.IP = s.conn.IP

	return s
}

func (s *Session) String() string {
	return fmt.Sprintf("%d %s", s.ID, s.conn.RemoteAddr())
}

// State reports where the session is. It is safe to call from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run serves the connection until it closes or ctx is done.
//
// One goroutine reads lines and one writes them. This goroutine handles
// lines and bus events as they come.
func (s *Session) Run(ctx context.Context) error {
	metrics.SessionOpened()
	defer metrics.SessionClosed()

	s.logger.Info().Msg("connection opened")

	lines := make(chan string)
	readErrs := make(chan error, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go s.readLoop(&wg, lines, readErrs, done)
	go s.writeLoop(&wg)

	err := s.loop(ctx, lines, readErrs)

	s.cleanup()
	close(done)
	close(s.writeChan)
	wg.Wait()

	s.setState(Closed)
	s.logger.Info().Msg("connection closed")

	return err
}

func (s *Session) loop(
	ctx context.Context,
	lines <-chan string,
	readErrs <-chan error,
) error {
	for {
		// No subscription until the user registers or the connection becomes a
		// link. A nil channel never fires, so until then we wait on lines only.
		var ready <-chan struct{}
		if s.receiver != nil {
			ready = s.receiver.Ready()
		}

		select {
		case <-ctx.Done():
			s.quit("Server shutting down")
			return nil

		case line := <-lines:
			if err := s.handleLine(line); err != nil {
				return err
			}

		case err := <-readErrs:
			s.logger.Debug().Err(err).Msg("read failed")
			return nil

		case <-ready:
			s.drainBus()
		}

		if s.sendQueueExceeded {
			s.logger.Warn().Msg("send queue exceeded")
			return errors.New("send queue exceeded")
		}

		if s.closing {
			return nil
		}
	}
}

// readLoop endlessly reads from the connection and hands each line to the
// session goroutine.
func (s *Session) readLoop(
	wg *sync.WaitGroup,
	lines chan<- string,
	errs chan<- error,
	done <-chan struct{},
) {
	defer wg.Done()

	for {
		line, err := s.conn.Read()
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}

		select {
		case lines <- line:
		case <-done:
			return
		}
	}
}

// writeLoop endlessly reads from the session's channel, encodes each message,
// and writes it to the connection.
//
// When the channel is closed, or if we have a write error, close the
// connection. This way we try to deliver queued messages before closing the
// socket.
func (s *Session) writeLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	for m := range s.writeChan {
		if err := s.conn.WriteMessage(m); err != nil {
			s.logger.Debug().Err(err).Msg("write failed")
			break
		}
	}

	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("problem closing connection")
	}

	// Drain so nothing blocks on a dead writer. Sends never block anyway.
	for range s.writeChan {
	}
}

// Send a message to the connection. We send it to its write channel, which
// in turn leads to writing it to its socket.
//
// This function won't block. If the queue is full, we flag the session as
// having a full send queue.
func (s *Session) maybeQueueMessage(m irc.Message) {
	if s.sendQueueExceeded {
		return
	}

	select {
	case s.writeChan <- m:
	default:
		s.sendQueueExceeded = true
	}
}

// messageFromServer sends a message that appears to come from the server.
func (s *Session) messageFromServer(cmd string, params ...string) {
	s.maybeQueueMessage(
		command.FromServer(s.config.Hostname, s.user.Nickname, cmd, params...))
}

// quit tells the connection why we're closing it. The session ends after the
// current line or event.
func (s *Session) quit(msg string) {
	if s.closing {
		return
	}
	s.maybeQueueMessage(irc.Message{Command: "ERROR", Params: []string{msg}})
	s.closing = true
}

func (s *Session) cleanup() {
	if s.receiver != nil {
		s.receiver.Close()
		s.receiver = nil
	}

	switch s.role.(type) {
	case clientRole:
		s.leaveLocal()
	case linkRole:
		metrics.LinkClosed()
	}
}

// leaveLocal takes our user out of Local Users if it is still the entry under
// its username.
func (s *Session) leaveLocal() {
	if !s.user.FullyIdentified() {
		return
	}

	id := s.user.ID
	removed := s.services.Registries.Local.RemoveIf(s.user.Username,
		func(u state.RegisteredUser) bool { return u.ID == id })
	if removed {
		s.logger.Info().Str("user", id.String()).Msg("user left")
	}
}

// promote turns the connection into a server link. It happens at most once.
func (s *Session) promote() {
	if _, isLink := s.role.(linkRole); isLink {
		return
	}

	// A registered user stops being one. The link gets its own subscription.
	s.leaveLocal()
	if s.receiver != nil {
		s.receiver.Close()
		s.receiver = nil
	}

	l := link.New(link.Config{
		ServerID:   s.config.ServerID,
		Hostname:   s.config.Hostname,
		ServerInfo: s.config.ServerInfo,
	}, s.services.Registries, &s.logger)

	s.role = linkRole{link: l}
	s.receiver = s.services.Bus.Subscribe()
	s.setState(ServerLinkActive)

	metrics.LinkOpened()
	s.logger.Info().Msg("connection upgraded to server link")
}

func (s *Session) handleLine(line string) error {
	switch r := s.role.(type) {
	case clientRole:
		return s.handleClientLine(line)
	case linkRole:
		return s.handleLinkLine(r.link, line)
	}
	return nil
}

func (s *Session) handleClientLine(line string) error {
	c, err := command.ParseLine(line)
	if err != nil {
		if err == command.ErrEmptyLine {
			return nil
		}
		return errors.Wrap(err, "parse")
	}

	s.logger.Debug().Str("line", strings.TrimRight(line, "\r\n")).
		Msg("client line")

	req := &command.Request{
		Authenticated: s.user.FullyIdentified(),
		User:          &s.user,
		Secrets:       s.config.Secrets,
		Registries:    s.services.Registries,
		ServerID:      s.config.ServerID,
		Hostname:      s.config.Hostname,
	}

	actions, err := s.services.Dispatcher.Dispatch(c, req)
	if err != nil {
		if errors.Is(err, command.ErrNonexistentCommand) {
			metrics.RecordCommand(s.role.name(), "unknown")
			// 421 ERR_UNKNOWNCOMMAND
			s.messageFromServer("421", c.Name, "Unknown command")
			return nil
		}
		return errors.Wrapf(err, "command %s", c.Name)
	}
	metrics.RecordCommand(s.role.name(), strings.ToUpper(c.Name))

	s.apply(actions)

	s.maybeCompleteRegistration()
	return nil
}

func (s *Session) handleLinkLine(l *link.Link, line string) error {
	c, err := command.ParsePrefixedLine(line)
	if err != nil {
		if err != command.ErrEmptyLine {
			s.logger.Warn().Err(err).Str("line", line).Msg("invalid line from server")
		}
		return nil
	}

	s.logger.Debug().Str("line", strings.TrimRight(line, "\r\n")).
		Msg("server line")

	actions, err := l.Handle(c)
	if err != nil {
		s.logger.Warn().Err(err).Str("server", l.String()).Msg("closing link")
		s.quit(fmt.Sprintf("Closing Link: %s", err))
		return nil
	}

	s.apply(actions)
	return nil
}

func (s *Session) apply(actions []command.Action) {
	for _, a := range actions {
		switch a := a.(type) {
		case command.SendText:
			s.maybeQueueMessage(a.Message)

		case command.JoinChannels:
			sender, err := s.user.Snapshot()
			if err != nil {
				continue
			}
			for _, c := range a.Channels {
				s.services.Bus.Publish(bus.ChannelJoin{Sender: sender, Channel: c})
			}

		case command.SendMessage:
			s.services.Bus.Publish(a.Event)

		case command.ErrorAuthenticateFirst:
			// 451 ERR_NOTREGISTERED
			s.messageFromServer("451", "You have not registered")

		case command.UpgradeToServerLink:
			s.promote()

		case command.DoNothing:
		}
	}
}

// maybeCompleteRegistration finishes registering the user the first time
// NICK and USER are both in.
func (s *Session) maybeCompleteRegistration() {
	if _, isClient := s.role.(clientRole); !isClient {
		return
	}

	if !s.user.Populated() || s.user.Identified {
		return
	}

	suffix, err := s.services.Allocator.Next()
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to allocate UID")
		s.quit("Server is full")
		return
	}

	id, err := ident.NewUserID(s.config.ServerID, suffix)
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to build UID")
		s.quit("Server is full")
		return
	}

	s.user.ID = id
	s.user.Identified = true
	s.user.Timestamp = time.Now().Unix()
	s.user.Modes = "+ix"

	u, err := s.user.Snapshot()
	if err != nil {
		// Populated and identified, so this doesn't happen.
		s.logger.Error().Err(err).Msg("unable to snapshot user")
		s.quit("Internal error")
		return
	}

	s.receiver = s.services.Bus.Subscribe()
	s.setState(ClientActive)

	s.sendWelcome(u)

	s.services.Bus.Publish(bus.NetworkJoin{User: u, Origin: s.config.ServerID})
	s.services.Registries.Local.Insert(u.Username, u)

	metrics.RecordRegistration()
	s.logger.Info().Str("user", u.String()).Msg("user registered")
}

func (s *Session) sendWelcome(u state.RegisteredUser) {
	// 001 RPL_WELCOME
	s.messageFromServer("001", fmt.Sprintf(
		"Welcome to the %s Internet Relay Chat Network %s",
		s.config.NetworkName, u.Hostmask()))

	// 002 RPL_YOURHOST
	s.messageFromServer("002", fmt.Sprintf(
		"Your host is %s, running version %s", s.config.Hostname,
		s.config.Version))

	// 004 RPL_MYINFO
	// <servername> <version> <available user modes>
	s.messageFromServer("004", s.config.Hostname, s.config.Version, "ix")

	// 005 RPL_ISUPPORT
	s.messageFromServer("005",
		"CASEMAPPING=ascii",
		"CHANTYPES=#",
		"NETWORK="+s.config.NetworkName,
		"are supported by this server")

	// 422 ERR_NOMOTD
	s.messageFromServer("422", "MOTD File is missing")

	s.maybeQueueMessage(irc.Message{
		Prefix:  u.Nickname,
		Command: "MODE",
		Params:  []string{u.Nickname, u.Modes},
	})
}

// drainBus renders everything waiting on our subscription.
func (s *Session) drainBus() {
	for {
		e, err := s.receiver.TryRecv()
		if err != nil {
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				s.lagged(lagged)
				continue
			}
			return
		}

		switch r := s.role.(type) {
		case clientRole:
			s.renderForClient(e)
		case linkRole:
			for _, m := range r.link.Render(e) {
				s.maybeQueueMessage(m)
			}
		}
	}
}

func (s *Session) lagged(err *bus.LaggedError) {
	s.logger.Warn().Uint64("missed", err.Missed).Msg("fell behind on events")

	if _, isClient := s.role.(clientRole); isClient {
		s.messageFromServer("NOTICE", s.user.Nickname,
			fmt.Sprintf("*** You missed %d messages", err.Missed))
	}
}
