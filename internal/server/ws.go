package server

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The protocol carries no cookies or ambient credentials, so cross-
	// origin connections are as harmless as a raw TCP dial.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a WebSocket connection to frameConn: one text frame carries
// exactly one protocol JSON object in each direction.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteFrame(line []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, line)
}

func (w *wsConn) Close() error { return w.conn.Close() }

func (w *wsConn) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

// wsHandler upgrades /ws requests and feeds each connection into the same
// session handling as the TCP listener.  WebSocket and TCP clients share
// one registry and chat together.
func (s *Server) wsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.Printf("[server] websocket upgrade: %v", err)
			return
		}
		c := newClient(&wsConn{conn: conn}, s)
		log.Printf("[server] %s connected from %s (websocket)", c.session.ID(), conn.RemoteAddr())
		go c.writePump()
		c.readPump()
	})
	return mux
}

func (s *Server) serveWS(ln net.Listener) {
	if err := s.ws.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Printf("[server] websocket listener: %v", err)
	}
}
