package contracts

// EventKind identifies an Event variant
type EventKind int

const (
	KindUserRegistered EventKind = iota + 1
	KindUserCreated
	KindEmailCommand
)

func (k EventKind) String() string {
	switch k {
	case KindUserRegistered:
		return "UserRegistered"
	case KindUserCreated:
		return "UserCreated"
	case KindEmailCommand:
		return "EmailCommand"
	default:
		return "unknown"
	}
}

// Event is the canonical representation every inbound payload is normalized into.
// The set of implementations is closed: only types in this package satisfy it.
type Event interface {
	// Kind returns the variant tag
	Kind() EventKind
	// Recipient returns the email address the notification goes to. It may be empty.
	Recipient() string

	sealed()
}

// InboundMessage is a broker delivery as seen by the relay handler
type InboundMessage struct {
	Queue       string
	RoutingKey  string
	Body        []byte
	MessageID   string
	Redelivered bool
}
