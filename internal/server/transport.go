package server

import (
	"bufio"
	"io"
	"net"
	"time"
)

const writeTimeout = 10 * time.Second

// frameConn abstracts one duplex client connection.  Each frame carries
// exactly one protocol JSON object; framing below this interface is the
// transport's business (newlines on TCP, text frames on WebSocket).
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(line []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// tcpConn frames the protocol over newline-delimited TCP.
type tcpConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (t *tcpConn) ReadFrame() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := make([]byte, len(t.scanner.Bytes()))
	copy(line, t.scanner.Bytes())
	return line, nil
}

// WriteFrame appends the newline delimiter.  A write deadline bounds how
// long a stuck client can hold up its own write pump.
func (t *tcpConn) WriteFrame(line []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := t.conn.Write(line); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte{'\n'})
	return err
}

func (t *tcpConn) Close() error { return t.conn.Close() }

func (t *tcpConn) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
