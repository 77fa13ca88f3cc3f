package push

// Clients drive their subscriptions with small JSON control frames. The
// server never replays missed messages; delivery is best effort.

const (
	controlSubscribe   = "subscribe"
	controlUnsubscribe = "unsubscribe"
)

// controlMessage is the only inbound frame shape the hub accepts.
type controlMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// errorFrame tells one client its last control frame was rejected.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorFrame(message string) errorFrame {
	return errorFrame{Type: "error", Message: message}
}
