package ws

// Inbound message types on the session stream.
const (
	TypeInput    = "input"
	TypeResize   = "resize"
	TypeReparent = "reparent"
	TypePing     = "ping"
	TypeList     = "list"
)

// Outbound-only message types.
const (
	TypePong  = "pong"
	TypeError = "error"
)

// Close codes beyond the RFC 6455 set.
const (
	// CloseUnknownSession is sent when the stream names no live session.
	CloseUnknownSession = 4004
)

// ClientMessage is a message sent by a viewer or dashboard client.
type ClientMessage struct {
	Type string `json:"type"`
	// Data is the input text for TypeInput, forwarded verbatim.
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	// Target names the surface a reparent moves to ("window" or "dock").
	Target string `json:"target,omitempty"`
}

// ServerMessage is a message pushed to a viewer. Data is encoded as base64
// so output stays byte-exact.
type ServerMessage struct {
	Type     string `json:"type"`
	Data     []byte `json:"data,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
}

func errorMessage(code, msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: msg}
}
