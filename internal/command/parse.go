// Package command turns protocol lines into Actions.
//
// Handlers never touch the network. They read and update registries and the
// session's user record, then return Actions for the session to carry out.
package command

import (
	"strings"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// ErrEmptyLine means the line had nothing but whitespace.
var ErrEmptyLine = errors.New("empty line")

// Command is one parsed line.
type Command struct {
	// Source is the prefix without its ':'. Clients don't send one.
	Source string

	Name string
	Args []string
}

// ParseLine parses a line from a client.
//
// Tokens are separated by runs of whitespace. The first token is the command
// name. The first later token starting with ':' begins the trailing argument,
// which takes the rest of the line joined by single spaces. Each token
// absorbed into it has a leading ':' removed.
func ParseLine(raw string) (Command, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Command{}, ErrEmptyLine
	}

	c := Command{Name: fields[0]}

	var trailing []string
	inTrailing := false

	for _, f := range fields[1:] {
		if !inTrailing && !strings.HasPrefix(f, ":") {
			c.Args = append(c.Args, f)
			continue
		}
		inTrailing = true
		trailing = append(trailing, strings.TrimPrefix(f, ":"))
	}

	if inTrailing {
		c.Args = append(c.Args, strings.Join(trailing, " "))
	}

	return c, nil
}

// ParsePrefixedLine parses a line from a linked server. These may start with
// a :source prefix and are decoded per RFC 1459 so the trailing parameter is
// kept exactly.
func ParsePrefixedLine(raw string) (Command, error) {
	if strings.TrimSpace(raw) == "" {
		return Command{}, ErrEmptyLine
	}

	if !strings.HasSuffix(raw, "\n") {
		raw += "\r\n"
	}

	m, err := irc.ParseMessage(raw)
	if err != nil && err != irc.ErrTruncated {
		return Command{}, errors.Wrap(err, "invalid message")
	}

	return Command{
		Source: m.Prefix,
		Name:   m.Command,
		Args:   m.Params,
	}, nil
}
