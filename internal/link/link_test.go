package link

import (
	"testing"
	"time"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/relaylog"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1500000000, 0)

func newLink(t *testing.T) *Link {
	sid, err := ident.ParseServerID("000")
	require.NoError(t, err)

	l := New(Config{
		ServerID:   sid,
		Hostname:   "irc.example.com",
		ServerInfo: "Test server",
	}, state.NewRegistries(), relaylog.Nop())
	l.now = func() time.Time { return fixedNow }
	return l
}

func handle(t *testing.T, l *Link, line string) ([]command.Action, error) {
	c, err := command.ParsePrefixedLine(line)
	require.NoError(t, err)
	return l.Handle(c)
}

func messages(t *testing.T, actions []command.Action) []irc.Message {
	var ms []irc.Message
	for _, a := range actions {
		st, ok := a.(command.SendText)
		require.True(t, ok, "%#v", a)
		ms = append(ms, st.Message)
	}
	return ms
}

func encode(t *testing.T, ms []irc.Message) []string {
	var lines []string
	for _, m := range ms {
		s, err := m.Encode()
		require.NoError(t, err)
		lines = append(lines, s)
	}
	return lines
}

// handshake runs a peer with SID 1AB through the link handshake.
func handshake(t *testing.T, l *Link) []string {
	actions, err := handle(t, l, "CAPAB :QS ENCAP")
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = handle(t, l, "SERVER peer.example.com 1 1AB + :Peer server")
	require.NoError(t, err)
	assert.Equal(t, []string{
		":irc.example.com SERVER irc.example.com 1 000 + :Test server\r\n",
	}, encode(t, messages(t, actions)))

	actions, err = handle(t, l, "SVINFO 6 6 0 :1500000010")
	require.NoError(t, err)
	return encode(t, messages(t, actions))
}

func TestHandshake(t *testing.T) {
	l := newLink(t)

	lines := handshake(t, l)
	assert.Equal(t, []string{"SVINFO 6 6 0 1500000000\r\n"}, lines)

	assert.True(t, l.Ready())
	assert.Equal(t, "1AB", l.State.ServerID.String())
	assert.Equal(t, "peer.example.com", l.State.Name)
	assert.Equal(t, "Peer server", l.State.Description)
	assert.Equal(t, 1, l.State.HopCount)
	assert.Equal(t, []string{"QS", "ENCAP"}, l.State.Capabilities)
	assert.Equal(t, "peer.example.com (1AB)", l.String())
}

func TestHandshakeBurstsLocalUsers(t *testing.T) {
	l := newLink(t)

	id, err := ident.ParseUserID("000AAAAAA")
	require.NoError(t, err)
	l.registries.Local.Insert("alice", state.RegisteredUser{
		Nickname:  "alice",
		Username:  "alice",
		Realname:  "Alice Smith",
		ID:        id,
		Modes:     "+ix",
		Timestamp: 1499999999,
		Hostname:  "127.0.0.1",
		IP:        "127.0.0.1",
	})

	lines := handshake(t, l)
	assert.Equal(t, []string{
		"SVINFO 6 6 0 1500000000\r\n",
		":000 UID alice 1 1499999999 +ix alice 127.0.0.1 127.0.0.1 000AAAAAA :Alice Smith\r\n",
	}, lines)
}

func TestSVINFOMismatch(t *testing.T) {
	l := newLink(t)

	_, err := handle(t, l, "SERVER peer.example.com 1 1AB + :Peer")
	require.NoError(t, err)

	_, err = handle(t, l, "SVINFO 5 5 0 :1500000000")
	assert.True(t, errors.Is(err, ErrProtocolMismatch))
	assert.False(t, l.Ready())

	l = newLink(t)
	_, err = handle(t, l, "SERVER peer.example.com 1 1AB + :Peer")
	require.NoError(t, err)
	_, err = handle(t, l, "SVINFO 6 5 0 :1500000000")
	assert.True(t, errors.Is(err, ErrProtocolMismatch))
}

func TestSVINFOBeforeSERVER(t *testing.T) {
	l := newLink(t)
	_, err := handle(t, l, "SVINFO 6 6 0 :1500000000")
	assert.Error(t, err)
}

func TestSVINFOClockSkewOnlyWarns(t *testing.T) {
	l := newLink(t)
	_, err := handle(t, l, "SERVER peer.example.com 1 1AB + :Peer")
	require.NoError(t, err)

	_, err = handle(t, l, "SVINFO 6 6 0 :1400000000")
	require.NoError(t, err)
	assert.True(t, l.Ready())
}

func TestSERVERErrors(t *testing.T) {
	tests := []string{
		"SERVER peer.example.com 1 1AB",
		"SERVER peer.example.com x 1AB + :Peer",
		"SERVER peer.example.com 1 ABC + :Peer",
		"SERVER peer.example.com 1 000 + :Peer",
	}

	for _, line := range tests {
		_, err := handle(t, newLink(t), line)
		assert.Error(t, err, line)
	}

	l := newLink(t)
	_, err := handle(t, l, "SERVER peer.example.com 1 1AB + :Peer")
	require.NoError(t, err)
	_, err = handle(t, l, "SERVER peer.example.com 1 1AB + :Peer")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	l := newLink(t)

	actions, err := handle(t, l, "PING :1AB")
	require.NoError(t, err)
	assert.Equal(t, []string{":000 PONG 000 1AB\r\n"},
		encode(t, messages(t, actions)))

	actions, err = handle(t, l, "PING")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestUnknownCommandIgnored(t *testing.T) {
	l := newLink(t)
	actions, err := handle(t, l, ":1AB SJOIN 1500000000 #a +nt :@1ABAAAAAA")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestError(t *testing.T) {
	_, err := handle(t, newLink(t), "ERROR :Closing Link")
	assert.Error(t, err)
}

func TestUID(t *testing.T) {
	l := newLink(t)
	handshake(t, l)

	actions, err := handle(t, l,
		":1AB UID bob 1 1500000000 +i ~bob bob.example.com 10.0.0.1 1ABAAAAAA :Bob B")
	require.NoError(t, err)
	require.Len(t, actions, 1)

	id, err := ident.ParseUserID("1ABAAAAAA")
	require.NoError(t, err)

	u, exists := l.registries.Foreign.Get(id)
	require.True(t, exists)
	assert.Equal(t, "bob", u.Nickname)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "Bob B", u.Realname)
	assert.Equal(t, 1, u.HopCount)
	assert.Equal(t, "bob!~bob@bob.example.com", u.Hostmask())

	nj, ok := actions[0].(command.SendMessage).Event.(bus.NetworkJoin)
	require.True(t, ok)
	assert.Equal(t, l.State.ServerID, nj.Origin)
	assert.Equal(t, u, nj.User)

	// Bad UIDs are dropped.
	actions, err = handle(t, l,
		":1AB UID carol 1 1500000000 +i carol h 0 XYZ :Carol")
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, 1, l.registries.Foreign.Len())
}

func TestUIDBeforeHandshakeIgnored(t *testing.T) {
	l := newLink(t)
	actions, err := handle(t, l,
		":1AB UID bob 1 1500000000 +i bob h 0 1ABAAAAAA :Bob")
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, 0, l.registries.Foreign.Len())
}

func TestPrivmsgFromPeer(t *testing.T) {
	l := newLink(t)
	handshake(t, l)

	_, err := handle(t, l,
		":1AB UID bob 1 1500000000 +i bob h 0 1ABAAAAAA :Bob")
	require.NoError(t, err)

	actions, err := handle(t, l, ":1ABAAAAAA PRIVMSG 000AAAAAA :hi  there")
	require.NoError(t, err)
	require.Len(t, actions, 1)

	pm, ok := actions[0].(command.SendMessage).Event.(bus.PrivateMessage)
	require.True(t, ok)
	assert.Equal(t, "bob", pm.Sender.Nickname)
	assert.Equal(t, bus.ToUserID, pm.Target.Kind)
	assert.Equal(t, "000AAAAAA", pm.Target.UserID.String())
	assert.Equal(t, "hi  there", pm.Text)

	// Unknown sender.
	actions, err = handle(t, l, ":1ABAAAAAZ PRIVMSG 000AAAAAA :hi")
	require.NoError(t, err)
	assert.Empty(t, actions)

	// Unparsable target.
	actions, err = handle(t, l, ":1ABAAAAAA PRIVMSG alice :hi")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestRender(t *testing.T) {
	l := newLink(t)

	localID, err := ident.ParseUserID("000AAAAAA")
	require.NoError(t, err)
	local := state.RegisteredUser{
		Nickname: "alice", Username: "alice", Realname: "Alice",
		ID: localID, Modes: "+ix", Timestamp: 1, Hostname: "h", IP: "::1",
	}

	peerID, err := ident.ParseUserID("1ABAAAAAA")
	require.NoError(t, err)
	peer := state.RegisteredUser{
		Nickname: "bob", Username: "bob", Realname: "Bob", ID: peerID,
	}

	join := bus.NetworkJoin{User: local, Origin: l.config.ServerID}

	// Nothing goes out before the handshake.
	assert.Empty(t, l.Render(join))

	handshake(t, l)
	l.registries.Foreign.Insert(peerID, peer)

	assert.Equal(t, []string{
		":000 UID alice 1 1 +ix alice h 0::1 000AAAAAA :Alice\r\n",
	}, encode(t, l.Render(join)))

	// Users the peer told us about don't go back to it.
	assert.Empty(t, l.Render(bus.NetworkJoin{User: peer, Origin: l.State.ServerID}))

	assert.Equal(t, []string{":000AAAAAA PRIVMSG 1ABAAAAAA :hello there\r\n"},
		encode(t, l.Render(bus.PrivateMessage{
			Sender: local,
			Target: bus.UserIDTarget(peerID),
			Text:   "hello there",
		})))

	assert.Equal(t, []string{":000AAAAAA PRIVMSG 1ABAAAAAA :hi\r\n"},
		encode(t, l.Render(bus.PrivateMessage{
			Sender: local,
			Target: bus.UsernameTarget("BOB"),
			Text:   "hi",
		})))

	// Not for the peer.
	assert.Empty(t, l.Render(bus.PrivateMessage{
		Sender: local, Target: bus.UsernameTarget("alice"), Text: "hi",
	}))
	assert.Empty(t, l.Render(bus.PrivateMessage{
		Sender: local, Target: bus.ChannelTarget("#a"), Text: "hi",
	}))

	// From the peer.
	assert.Empty(t, l.Render(bus.PrivateMessage{
		Sender: peer, Target: bus.UserIDTarget(peerID), Text: "hi",
	}))

	assert.Empty(t, l.Render(bus.ChannelJoin{Sender: local}))
}

func TestRenderSkipsBurstedUserOnce(t *testing.T) {
	l := newLink(t)

	id, err := ident.ParseUserID("000AAAAAA")
	require.NoError(t, err)
	alice := state.RegisteredUser{
		Nickname: "alice",
		Username: "alice",
		Realname: "Alice",
		ID:       id,
		IP:       "127.0.0.1",
	}
	l.registries.Local.Insert("alice", alice)

	lines := handshake(t, l)
	require.Len(t, lines, 2)

	sid, err := ident.ParseServerID("000")
	require.NoError(t, err)
	join := bus.NetworkJoin{User: alice, Origin: sid}

	// Her join was on the bus when the burst went out.
	assert.Empty(t, l.Render(join))

	assert.Equal(t, []string{
		":000 UID alice 1 0 + alice 127.0.0.1 127.0.0.1 000AAAAAA Alice\r\n",
	}, encode(t, l.Render(join)))
}

func TestRenderBeforeHandshakeIntroducedAfterBurst(t *testing.T) {
	l := newLink(t)

	sid, err := ident.ParseServerID("000")
	require.NoError(t, err)

	aliceID, err := ident.ParseUserID("000AAAAAA")
	require.NoError(t, err)
	alice := state.RegisteredUser{
		Nickname: "alice", Username: "alice", Realname: "Alice", ID: aliceID,
		IP: "127.0.0.1",
	}
	l.registries.Local.Insert("alice", alice)

	// dave published his join but is not in Local Users yet.
	daveID, err := ident.ParseUserID("000AAAAAB")
	require.NoError(t, err)
	dave := state.RegisteredUser{
		Nickname: "dave", Username: "dave", Realname: "Dave", ID: daveID,
		IP: "127.0.0.2",
	}

	_, err = handle(t, l, "SERVER peer.example.com 1 1AB + :Peer server")
	require.NoError(t, err)

	assert.Empty(t, l.Render(bus.NetworkJoin{User: alice, Origin: sid}))
	assert.Empty(t, l.Render(bus.NetworkJoin{User: dave, Origin: sid}))

	actions, err := handle(t, l, "SVINFO 6 6 0 :1500000010")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SVINFO 6 6 0 1500000000\r\n",
		":000 UID alice 1 0 + alice 127.0.0.1 127.0.0.1 000AAAAAA Alice\r\n",
		":000 UID dave 1 0 + dave 127.0.0.2 127.0.0.2 000AAAAAB Dave\r\n",
	}, encode(t, messages(t, actions)))

	// alice's join was used up. A later one for her goes out again.
	assert.Len(t, l.Render(bus.NetworkJoin{User: alice, Origin: sid}), 1)
}
