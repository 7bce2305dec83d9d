package contracts

// MailKind is the closed set of mail types an EmailCommand can request
type MailKind int

const (
	// MailKindUnknown covers every mail type the relay has no template for
	MailKindUnknown MailKind = iota
	MailKindWelcome
	MailKindFailure
)

// Wire values of EmailCommand.MailType
const (
	MailTypeWelcome = "Welcome"
	MailTypeFailure = "Failure"
)

// ParseMailKind maps a wire mail type onto a MailKind. Matching is exact.
func ParseMailKind(mailType string) MailKind {
	switch mailType {
	case MailTypeWelcome:
		return MailKindWelcome
	case MailTypeFailure:
		return MailKindFailure
	default:
		return MailKindUnknown
	}
}

func (k MailKind) String() string {
	switch k {
	case MailKindWelcome:
		return MailTypeWelcome
	case MailKindFailure:
		return MailTypeFailure
	default:
		return "Unknown"
	}
}
