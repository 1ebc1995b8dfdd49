package server

import (
	"regexp"

	"linechat/internal/protocol"
)

// Error texts sent back on invalid requests.
const (
	msgNotValid = "That request is not valid. Enter 'help' for a list of possible actions."

	msgNotLoggedIn     = "You are not logged in. Enter 'login <username>' to log in."
	msgAlreadyLoggedIn = "You are already logged in. Log out before logging in again."
	msgBadUsername     = "Username must be 3-20 characters long and contain only letters, digits and underscores."
	msgUsernameTaken   = "That username is already taken. Pick another one."

	msgLogoutTakesNoContent = "The logout request takes no content."
	msgNamesTakesNoContent  = "The names request takes no content."
	msgHelpTakesNoContent   = "The help request takes no content."
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// validateRequest decides whether req may be applied to sess given the
// current registry state.  It returns the error text to send back when not.
// It never mutates anything: the authoritative uniqueness decision for login
// is still made by Registry.TryRegister, so concurrent logins cannot both
// pass here and both succeed.
func validateRequest(req protocol.Request, sess *Session, reg *Registry) (bool, string) {
	switch req.Kind {
	case protocol.KindLogin:
		return validateLogin(req, sess, reg)
	case protocol.KindLogout:
		return validateLogout(req, sess)
	case protocol.KindMsg:
		return validateMsg(sess)
	case protocol.KindNames:
		return validateNames(req, sess)
	case protocol.KindHelp:
		return validateHelp(req)
	default:
		return false, msgNotValid
	}
}

// Checks run in order: already-logged-in, username format, then uniqueness.
func validateLogin(req protocol.Request, sess *Session, reg *Registry) (bool, string) {
	if sess.LoggedIn() {
		return false, msgAlreadyLoggedIn
	}
	if !usernamePattern.MatchString(req.Content) {
		return false, msgBadUsername
	}
	if reg.Contains(req.Content) {
		return false, msgUsernameTaken
	}
	return true, ""
}

func validateLogout(req protocol.Request, sess *Session) (bool, string) {
	if !sess.LoggedIn() {
		return false, msgNotLoggedIn
	}
	if req.Content != protocol.NoContent {
		return false, msgLogoutTakesNoContent
	}
	return true, ""
}

func validateMsg(sess *Session) (bool, string) {
	if !sess.LoggedIn() {
		return false, msgNotLoggedIn
	}
	return true, ""
}

func validateNames(req protocol.Request, sess *Session) (bool, string) {
	if !sess.LoggedIn() {
		return false, msgNotLoggedIn
	}
	if req.Content != protocol.NoContent {
		return false, msgNamesTakesNoContent
	}
	return true, ""
}

// help is the one request an anonymous session may use.
func validateHelp(req protocol.Request) (bool, string) {
	if req.Content != protocol.NoContent {
		return false, msgHelpTakesNoContent
	}
	return true, ""
}
