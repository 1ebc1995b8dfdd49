// Package server implements the chat service: per-connection sessions, the
// shared registry of logged-in users, request validation, and the broadcast
// and history plumbing between them.
//
// Concurrency overview
// --------------------
//
//	One goroutine pair (readPump/writePump) per connection, all running
//	against two shared gates:
//
//	  Registry mutex – guards every read, iteration and mutation of the
//	                   username→sink map.  Broadcast sends inside the lock
//	                   are buffered-channel enqueues, so the hold time is
//	                   bounded.
//	  History mutex  – guards the append-only chat log, inside the history
//	                   package.
//
//	The two gates are independent; no code path holds both.  Log appends
//	run through a small worker pool so the broadcast path never waits on
//	disk I/O.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"linechat/internal/history"
	"linechat/internal/protocol"
)

const helpText = "Possible requests:\n" +
	"- login <username>\n" +
	"- logout\n" +
	"- msg <content>\n" +
	"- names\n" +
	"- help\n"

// ---------------------------------------------------------------------------
// Worker pool – async history appends
// ---------------------------------------------------------------------------

type logEntry struct {
	timestamp string
	sender    string
	content   string
}

// workerPool appends chat messages to the history log in the background.
// Append failures are logged and never reach the chat session.  A single
// worker preserves broadcast order in the log; more workers trade that
// for throughput.
type workerPool struct {
	mu     sync.Mutex
	closed bool
	jobs   chan logEntry
	wg     sync.WaitGroup
}

func newWorkerPool(n int, hist *history.Log) *workerPool {
	p := &workerPool{jobs: make(chan logEntry, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for e := range p.jobs {
				if err := hist.Append(e.timestamp, e.sender, e.content); err != nil {
					log.Printf("[history] %v", err)
				}
			}
		}()
	}
	return p
}

func (p *workerPool) submit(e logEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	// Non-blocking submit; drop from the log rather than stall a handler.
	select {
	case p.jobs <- e:
	default:
		log.Printf("[history] job queue full, message dropped from log")
	}
}

func (p *workerPool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server ties together the Registry, the history log, and the listeners.
// One Server instance is built at startup and handed to every connection;
// there is no package-level mutable state.
type Server struct {
	cfg      Config
	registry *Registry
	history  *history.Log
	pool     *workerPool

	listener net.Listener
	wsLn     net.Listener
	ws       *http.Server
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	cfg = cfg.sanitized()
	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		history:  hist,
		pool:     newWorkerPool(cfg.Workers, hist),
	}, nil
}

// Listen binds the TCP listener (and the WebSocket listener when
// configured) without accepting yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	log.Printf("[server] listening on %s", ln.Addr())

	if s.cfg.WSAddr != "" {
		wsLn, err := net.Listen("tcp", s.cfg.WSAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.WSAddr, err)
		}
		s.wsLn = wsLn
		s.ws = &http.Server{Handler: s.wsHandler()}
		log.Printf("[server] websocket listening on %s", wsLn.Addr())
	}
	return nil
}

// Addr returns the bound TCP address.  Valid after Listen.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// WSAddr returns the bound WebSocket address, or nil when disabled.
func (s *Server) WSAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

// Serve accepts connections until the listener is closed by Shutdown.
func (s *Server) Serve() error {
	if s.wsLn != nil {
		go s.serveWS(s.wsLn)
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// Closed by Shutdown.
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting, drains the history pool, and closes the log.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.ws != nil {
		s.ws.Close()
	}
	if s.wsLn != nil {
		s.wsLn.Close()
	}
	s.pool.stop()
	if err := s.history.Close(); err != nil {
		log.Printf("[history] close: %v", err)
	}
}

// serveConn runs one TCP connection to completion.
func (s *Server) serveConn(conn net.Conn) {
	c := newClient(newTCPConn(conn), s)
	log.Printf("[server] %s connected from %s", c.session.ID(), conn.RemoteAddr())
	go c.writePump()
	c.readPump()
}

// ---------------------------------------------------------------------------
// Request dispatch
// ---------------------------------------------------------------------------

// handleRequest validates req against the session and registry, then
// applies it.  Invalid requests of any kind produce exactly one error
// response to the requester and change no state.
func (s *Server) handleRequest(c *Client, req protocol.Request) {
	ok, reason := validateRequest(req, c.session, s.registry)
	if !ok {
		c.sendError(reason)
		return
	}

	switch req.Kind {
	case protocol.KindLogin:
		s.handleLogin(c, req)
	case protocol.KindLogout:
		s.handleLogout(c)
	case protocol.KindMsg:
		s.handleMsg(c, req)
	case protocol.KindNames:
		s.handleNames(c)
	case protocol.KindHelp:
		c.sendInfo(helpText)
	default:
		c.sendError(msgNotValid)
	}
}

func (s *Server) handleLogin(c *Client, req protocol.Request) {
	name := req.Content
	// The validator's uniqueness check is advisory; TryRegister is the
	// atomic claim, so of N racing logins for one name exactly one wins.
	if !s.registry.TryRegister(name, c) {
		c.sendError(msgUsernameTaken)
		return
	}
	c.session.LogIn(name)
	s.fanout(protocol.NewResponse(protocol.ServerName, protocol.KindInfo,
		fmt.Sprintf("User %s logged in.", name)), name)
	c.sendInfo("Login successful. Welcome to the chat.")
	s.sendHistory(c)
	log.Printf("[server] %s logged in as %s", c.session.ID(), name)
}

func (s *Server) handleLogout(c *Client) {
	// Acknowledge before the group notice so the requester cannot miss
	// their own confirmation.
	c.sendInfo("Logout successful. Bye.")
	name := c.session.Username()
	c.session.LogOut()
	if s.registry.Unregister(name, c) {
		s.announceLogout(name)
	}
	log.Printf("[server] %s logged out as %s", c.session.ID(), name)
}

func (s *Server) handleMsg(c *Client, req protocol.Request) {
	// The sender is included in the fanout; the echo doubles as delivery
	// confirmation.
	resp := protocol.NewResponse(c.session.Username(), protocol.KindMessage, req.Content)
	s.fanout(resp, "")
	s.pool.submit(logEntry{timestamp: resp.Timestamp, sender: resp.Sender, content: resp.Content})
}

func (s *Server) handleNames(c *Client) {
	c.sendInfo(strings.Join(s.registry.Snapshot(), ", "))
}

// sendHistory sends the tail of the chat log as a single history response.
// Best effort: an empty log sends nothing.
func (s *Server) sendHistory(c *Client) {
	lines := s.history.Tail(s.cfg.HistoryTail)
	if len(lines) == 0 {
		return
	}
	c.respond(protocol.KindHistory, strings.Join(lines, "\n"))
}

// fanout broadcasts resp and announces the departure of every client the
// registry evicted for a failed send.  The recursion through announceLogout
// terminates because each eviction shrinks the registry.
func (s *Server) fanout(resp protocol.Response, exclude string) {
	for _, name := range s.registry.Broadcast(resp, exclude) {
		s.announceLogout(name)
	}
}

// announceLogout tells every remaining client that username left.
func (s *Server) announceLogout(username string) {
	s.fanout(protocol.NewResponse(protocol.ServerName, protocol.KindInfo,
		fmt.Sprintf("User %s logged out.", username)), "")
}
