package session

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// Conn is a connection to a client/server
type Conn struct {
	conn      net.Conn
	rw        *bufio.ReadWriter
	writeWait time.Duration

	// IP is the remote host. For non-TCP connections it is whatever the
	// address says.
	IP string
}

// NewConn initializes a Conn struct
func NewConn(conn net.Conn, writeWait time.Duration) Conn {
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return Conn{
		conn:      conn,
		rw:        bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		writeWait: writeWait,
		IP:        ip,
	}
}

// Close closes the underlying connection
func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads a line from the connection.
//
// We set no read deadline. Idle connections stay open until the peer goes
// away or we close them.
func (c Conn) Read() (string, error) {
	line, err := c.rw.ReadString('\n')
	if err != nil {
		// A last line without a terminator still counts. EOF comes on the next
		// call.
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", errors.Wrap(err, "error reading")
	}

	return line, nil
}

// Write writes a string to the connection
func (c Conn) Write(s string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return errors.Wrap(err, "error setting write deadline")
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return errors.Wrap(err, "error writing")
	}

	if sz != len(s) {
		return errors.New("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return errors.Wrap(err, "flush error")
	}

	return nil
}

// WriteMessage encodes and writes a message. A message too long for the
// protocol goes out truncated.
func (c Conn) WriteMessage(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return errors.Wrapf(err, "unable to encode message: %s", m)
	}

	return c.Write(buf)
}
