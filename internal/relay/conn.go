package relay

// Conn is the transport half of a registered consumer. A Send error marks the
// connection dead; implementations must serialize concurrent Send calls so
// broadcasts targeting the same connection cannot interleave frames.
type Conn interface {
	Send(payload []byte) error
	Close()
	RemoteAddr() string
}
