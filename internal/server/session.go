package server

import "github.com/google/uuid"

// Session is the server-side state of one connection: anonymous until a
// login succeeds, authenticated until logout or disconnect.  A Session is
// owned by its connection's read goroutine; only that goroutine mutates or
// reads it, so no locking is needed.
type Session struct {
	id       string
	username string
	loggedIn bool
}

// NewSession returns an anonymous session with a fresh connection ID.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the connection identifier, used only for logging.
func (s *Session) ID() string { return s.id }

// Username returns the authenticated username, or "" while anonymous.
func (s *Session) Username() string { return s.username }

// LoggedIn reports whether the session is authenticated.
func (s *Session) LoggedIn() bool { return s.loggedIn }

// LogIn marks the session authenticated as username.
func (s *Session) LogIn(username string) {
	s.username = username
	s.loggedIn = true
}

// LogOut returns the session to the anonymous state.
func (s *Session) LogOut() {
	s.username = ""
	s.loggedIn = false
}
