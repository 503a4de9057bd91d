package session

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnReadKeepsUnterminatedLastLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("NICK alice\r\nUSER alice 0 * :Alice"))
		_ = client.Close()
	}()

	c := NewConn(server, time.Second)

	line, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "NICK alice\r\n", line)

	line, err = c.Read()
	require.NoError(t, err)
	assert.Equal(t, "USER alice 0 * :Alice", line)

	line, err = c.Read()
	assert.Equal(t, "", line)
	assert.Equal(t, io.EOF, errors.Cause(err))
}

func TestConnWriteMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, time.Second)
	assert.Equal(t, "pipe", c.IP)

	errs := make(chan error, 1)
	go func() {
		errs <- c.WriteMessage(irc.Message{
			Prefix:  "irc.example.com",
			Command: "NOTICE",
			Params:  []string{"alice", "hello there"},
		})
	}()

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ":irc.example.com NOTICE alice :hello there\r\n",
		string(buf[:n]))
	require.NoError(t, <-errs)
}
