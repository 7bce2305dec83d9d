package mail

// Email is a fully rendered notification
type Email struct {
	To         string
	Subject    string
	HTMLBody   string
	Attachment *Attachment
}

// Attachment is a file sent along with an Email
type Attachment struct {
	Filename string
	Data     []byte
}
