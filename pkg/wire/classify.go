package wire

// Kind classifies a decoded text frame.
type Kind int

const (
	KindMalformed Kind = iota
	KindReply
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindNotification:
		return "notification"
	default:
		return "malformed"
	}
}

// Classify inspects a frame decoded into a generic map. A frame with a
// non-zero id is a reply; otherwise a string method plus an array of params
// make a notification.
func Classify(msg map[string]any) Kind {
	if msg == nil {
		return KindMalformed
	}
	if id, ok := ID(msg); ok && id != 0 {
		return KindReply
	}
	if _, ok := msg["method"].(string); !ok {
		return KindMalformed
	}
	if _, ok := msg["params"].([]any); !ok {
		return KindMalformed
	}
	return KindNotification
}

// ID extracts the numeric "id" member of a decoded frame.
func ID(msg map[string]any) (int64, bool) {
	switch v := msg["id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
