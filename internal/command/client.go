package command

import (
	"strings"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/ident"
)

// CAP is not supported. Clients carry on registering without it.
func capCommand(req *Request) ([]Action, error) {
	return nothing(), nil
}

// WHO is accepted and ignored.
func whoCommand(req *Request) ([]Action, error) {
	return nothing(), nil
}

func nickCommand(req *Request) ([]Action, error) {
	// We should have one parameter: The nick they want.
	if len(req.Args) == 0 {
		// 431 ERR_NONICKNAMEGIVEN
		return send(reply(req, "431", "No nickname given")), nil
	}

	req.User.Nickname = req.Args[0]

	// We don't reply. Registration completes in the session once USER is in
	// too.
	return nothing(), nil
}

func userCommand(req *Request) ([]Action, error) {
	// 4 parameters: <user> <mode> <unused> <realname>
	if len(req.Args) < 4 {
		return nothing(), nil
	}

	req.User.Username = req.Args[0]
	req.User.Realname = req.Args[3]
	return nothing(), nil
}

func pingCommand(req *Request) ([]Action, error) {
	if !req.User.Populated() {
		return nothing(), nil
	}

	if len(req.Args) == 0 {
		// 409 ERR_NOORIGIN
		return send(reply(req, "409", "No origin specified")), nil
	}

	// PONG <server> <origin>
	return send(irc.Message{
		Prefix:  req.Hostname,
		Command: "PONG",
		Params:  []string{req.Hostname, req.Args[0]},
	}), nil
}

func joinCommand(req *Request) ([]Action, error) {
	if !req.Authenticated {
		return []Action{ErrorAuthenticateFirst{}}, nil
	}

	if len(req.Args) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		return send(reply(req, "461", "JOIN", "Not enough parameters")), nil
	}

	u, err := req.User.Snapshot()
	if err != nil {
		return []Action{ErrorAuthenticateFirst{}}, nil
	}

	var joined JoinChannels
	for _, name := range strings.Split(req.Args[0], ",") {
		if !strings.HasPrefix(name, "#") {
			continue
		}
		c, _ := req.Registries.Channels.Join(name, u)
		joined.Channels = append(joined.Channels, c)
	}

	return []Action{joined}, nil
}

func privmsgCommand(req *Request) ([]Action, error) {
	if !req.Authenticated {
		return []Action{ErrorAuthenticateFirst{}}, nil
	}

	if len(req.Args) == 0 {
		// 411 ERR_NORECIPIENT
		return send(reply(req, "411", "No recipient given (PRIVMSG)")), nil
	}

	if len(req.Args) == 1 || req.Args[1] == "" {
		// 412 ERR_NOTEXTTOSEND
		return send(reply(req, "412", "No text to send")), nil
	}

	u, err := req.User.Snapshot()
	if err != nil {
		return []Action{ErrorAuthenticateFirst{}}, nil
	}

	return []Action{SendMessage{Event: bus.PrivateMessage{
		Sender: u,
		Target: parseTarget(req.Args[0]),
		Text:   req.Args[1],
	}}}, nil
}

// parseTarget decides how a PRIVMSG receiver is addressed: a channel if it
// starts with #, a UID if it parses as one, otherwise a username.
func parseTarget(s string) bus.Target {
	if strings.HasPrefix(s, "#") {
		return bus.ChannelTarget(s)
	}

	if id, err := ident.ParseUserID(s); err == nil {
		return bus.UserIDTarget(id)
	}

	return bus.UsernameTarget(s)
}

// PASS <password> from a server wanting to link. A password we don't accept
// is ignored and the connection carries on as a client.
func passCommand(req *Request) ([]Action, error) {
	if len(req.Args) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		return send(reply(req, "461", "PASS", "Not enough parameters")), nil
	}

	if !acceptsPassword(req.Secrets.AcceptPasswords, req.Args[0]) {
		return nothing(), nil
	}

	// PASS <password> TS <ts version> <SID>
	return []Action{
		SendText{Message: irc.Message{
			Command: "PASS",
			Params: []string{
				req.Secrets.LinkPassword, "TS", "6", req.ServerID.String(),
			},
		}},
		UpgradeToServerLink{},
	}, nil
}

func acceptsPassword(accepted []string, pass string) bool {
	for _, p := range accepted {
		if p != "" && p == pass {
			return true
		}
	}
	return false
}
