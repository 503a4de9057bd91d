package command

import "github.com/horgh/irc"

// FromServer builds a message that appears to come from the server.
//
// Numerics get the receiver's nick as the first parameter. Use * for the nick
// in cases where the client doesn't have one yet. This is what ircd-ratbox
// does.
func FromServer(
	hostname,
	nick,
	command string,
	params ...string,
) irc.Message {
	if isNumericCommand(command) {
		if nick == "" {
			nick = "*"
		}
		params = append([]string{nick}, params...)
	}

	return irc.Message{
		Prefix:  hostname,
		Command: command,
		Params:  params,
	}
}

// reply is FromServer for the user making the request.
func reply(req *Request, command string, params ...string) irc.Message {
	nick := ""
	if req.User != nil {
		nick = req.User.Nickname
	}
	return FromServer(req.Hostname, nick, command, params...)
}

func isNumericCommand(command string) bool {
	if len(command) != 3 {
		return false
	}
	for _, c := range command {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
