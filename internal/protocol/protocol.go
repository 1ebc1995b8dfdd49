// Package protocol defines the wire format shared by the chat server and
// client.  Each message is a single JSON object; over TCP the object is
// followed by a newline, over WebSocket it fills one text frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestKind identifies what a client is asking the server to do.
type RequestKind string

const (
	KindLogin  RequestKind = "login"
	KindLogout RequestKind = "logout"
	KindMsg    RequestKind = "msg"
	KindNames  RequestKind = "names"
	KindHelp   RequestKind = "help"
)

// ResponseKind identifies what a server line means to the client.
type ResponseKind string

const (
	KindError   ResponseKind = "error"
	KindInfo    ResponseKind = "info"
	KindMessage ResponseKind = "message"
	KindHistory ResponseKind = "history"
)

// NoContent is the content value carried by requests that take no argument.
const NoContent = "None"

// ServerName is the sender field used for every server-originated response
// that is not a relayed chat message.
const ServerName = "Chat-server"

// TimeLayout is the asctime-style timestamp format used on every response,
// e.g. "Tue Jan 13 10:17:09 2009".
const TimeLayout = "Mon Jan _2 15:04:05 2006"

// ErrMalformedPayload is returned when inbound bytes cannot be decoded into
// a Request.  It is not fatal to the connection; the server answers with a
// generic error and keeps reading.
var ErrMalformedPayload = errors.New("malformed payload")

// Request is one client→server line.
type Request struct {
	Kind    RequestKind `json:"request"`
	Content string      `json:"content"`
}

// Response is one server→client line.
type Response struct {
	Timestamp string       `json:"timestamp"`
	Sender    string       `json:"sender"`
	Kind      ResponseKind `json:"response"`
	Content   string       `json:"content"`
}

// NewResponse builds a Response stamped with the current local wall clock.
// Clock resolution is one second, so two responses produced in quick
// succession may carry the same timestamp.
func NewResponse(sender string, kind ResponseKind, content string) Response {
	return Response{
		Timestamp: time.Now().Format(TimeLayout),
		Sender:    sender,
		Kind:      kind,
		Content:   content,
	}
}

// DecodeRequest parses one inbound line.  Both the "request" and "content"
// fields must be present; anything else wraps ErrMalformedPayload.
func DecodeRequest(data []byte) (Request, error) {
	var raw struct {
		Kind    *RequestKind `json:"request"`
		Content *string      `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.Kind == nil || *raw.Kind == "" {
		return Request{}, fmt.Errorf("%w: missing request field", ErrMalformedPayload)
	}
	if raw.Content == nil {
		return Request{}, fmt.Errorf("%w: missing content field", ErrMalformedPayload)
	}
	return Request{Kind: *raw.Kind, Content: *raw.Content}, nil
}

// EncodeRequest returns the JSON bytes for one request (no trailing newline).
func EncodeRequest(kind RequestKind, content string) ([]byte, error) {
	return json.Marshal(Request{Kind: kind, Content: content})
}

// Encode returns the JSON bytes for r (no trailing newline).
func (r Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses one server line on the client side.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if resp.Kind == "" {
		return Response{}, fmt.Errorf("%w: missing response field", ErrMalformedPayload)
	}
	return resp, nil
}

// TakesContent reports whether k carries a meaningful content field.
// Requests without one send the NoContent sentinel instead.
func (k RequestKind) TakesContent() bool {
	return k == KindLogin || k == KindMsg
}
