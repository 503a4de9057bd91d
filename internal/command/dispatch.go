package command

import (
	"sort"
	"strings"

	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
)

// ErrNonexistentCommand means no handler is registered under the name.
var ErrNonexistentCommand = errors.New("unknown command")

// Secrets are the passwords a handler may need.
type Secrets struct {
	// LinkPassword is the password we send to servers linking to us.
	LinkPassword string

	// AcceptPasswords are passwords a connecting server may send us.
	AcceptPasswords []string
}

// Request is what a handler gets to work with.
type Request struct {
	Args []string

	// Authenticated is set once the user completed registration.
	Authenticated bool

	// User is the session's user record. Handlers may change it.
	User *state.User

	Secrets    Secrets
	Registries *state.Registries

	// Our SID and server name.
	ServerID ident.ServerID
	Hostname string
}

// Handler runs one command.
type Handler interface {
	Handle(req *Request) ([]Action, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(req *Request) ([]Action, error)

// Handle calls f.
func (f HandlerFunc) Handle(req *Request) ([]Action, error) {
	return f(req)
}

// Dispatcher routes commands to handlers. The table is fixed when it is
// created.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates a Dispatcher. Command names are case insensitive.
func NewDispatcher(handlers map[string]Handler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		d.handlers[strings.ToUpper(name)] = h
	}
	return d
}

// NewClientDispatcher creates the Dispatcher for client connections.
func NewClientDispatcher() *Dispatcher {
	return NewDispatcher(map[string]Handler{
		"CAP":     HandlerFunc(capCommand),
		"JOIN":    HandlerFunc(joinCommand),
		"NICK":    HandlerFunc(nickCommand),
		"PASS":    HandlerFunc(passCommand),
		"PING":    HandlerFunc(pingCommand),
		"PRIVMSG": HandlerFunc(privmsgCommand),
		"USER":    HandlerFunc(userCommand),
		"WHO":     HandlerFunc(whoCommand),
	})
}

// Dispatch runs the handler for c. req.Args is set from c.
func (d *Dispatcher) Dispatch(c Command, req *Request) ([]Action, error) {
	h, exists := d.handlers[strings.ToUpper(c.Name)]
	if !exists {
		return nil, errors.Wrap(ErrNonexistentCommand, c.Name)
	}

	req.Args = c.Args
	return h.Handle(req)
}

// Commands lists the registered command names in order.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
