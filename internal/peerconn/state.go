package peerconn

// State of a peer connection.
type State int

// Connection states in the order they are entered. Failed is entered instead of
// Verified when connecting or the handshake fails.
const (
	Connecting State = iota
	HandshakeSent
	Verified
	Active
	Closed
	Failed
)

var stateStrings = [...]string{
	Connecting:    "connecting",
	HandshakeSent: "handshake sent",
	Verified:      "verified",
	Active:        "active",
	Closed:        "closed",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateStrings) {
		return "unknown"
	}
	return stateStrings[s]
}
