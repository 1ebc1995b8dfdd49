package server

import (
	"errors"
	"io"
	"log"
	"sync"

	"linechat/internal/protocol"
)

// sendBufSize is the capacity of each client's outbound buffer.  A client
// that lets it fill up is treated as dead.
const sendBufSize = 256

// Client ties one connection to the shared server state.
//
// Two goroutines run per client:
//
//	readPump  – reads frames, decodes and validates requests, and applies
//	            their effects through the Server.
//	writePump – drains the send buffer and performs the blocking writes.
//
// The split means a peer's slow socket can never stall the goroutine that
// is broadcasting to it.  The Session is owned by readPump's goroutine.
type Client struct {
	session *Session
	conn    frameConn
	server  *Server

	send      chan []byte
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newClient(conn frameConn, srv *Server) *Client {
	return &Client{
		session: NewSession(),
		conn:    conn,
		server:  srv,
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}
}

// Send implements Sink.  It never blocks: a closed client or a full buffer
// reports failure, and the registry evicts the client in response.
func (c *Client) Send(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- line:
		return true
	default:
		return false
	}
}

// Kick implements Sink.  The registry calls it after evicting this client
// for a failed send: closing done stops the write pump, closing the
// connection unblocks the read pump, and the read pump's deferred teardown
// finishes the cleanup (logging the session out without a second notice).
func (c *Client) Kick() {
	c.doneOnce.Do(func() { close(c.done) })
	c.conn.Close()
}

// readPump reads frames until the connection drops.  Cleanup is deferred so
// it runs on every exit path.
func (c *Client) readPump() {
	defer c.teardown()

	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[server] %s read: %v", c.session.ID(), err)
			}
			return
		}
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			// A malformed line is answered but is not fatal to the session.
			c.sendError(msgNotValid)
			continue
		}
		c.server.handleRequest(c, req)
	}
}

// writePump performs the blocking writes.  It exits on write error or when
// teardown signals done; either way it closes the connection, which also
// unblocks a readPump stuck in ReadFrame.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case line := <-c.send:
			if err := c.conn.WriteFrame(line); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown runs the logout-equivalent cleanup exactly once, then releases
// the connection.  The registry's sink-matched Unregister keeps this safe
// against the client having already logged out or been evicted by a failed
// broadcast: only the caller that actually removed the entry announces the
// departure.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.doneOnce.Do(func() { close(c.done) })
		if c.session.LoggedIn() {
			name := c.session.Username()
			c.session.LogOut()
			if c.server.registry.Unregister(name, c) {
				c.server.announceLogout(name)
			}
		}
		c.conn.Close()
		log.Printf("[server] %s disconnected", c.session.ID())
	})
}

// respond sends a server-originated response to this client only.
func (c *Client) respond(kind protocol.ResponseKind, content string) {
	resp := protocol.NewResponse(protocol.ServerName, kind, content)
	line, err := resp.Encode()
	if err != nil {
		log.Printf("[server] %s encode response: %v", c.session.ID(), err)
		return
	}
	if !c.Send(line) {
		log.Printf("[server] %s: dropped %s response", c.session.ID(), kind)
	}
}

func (c *Client) sendError(text string) { c.respond(protocol.KindError, text) }

func (c *Client) sendInfo(text string) { c.respond(protocol.KindInfo, text) }
