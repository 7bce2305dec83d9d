package contracts

import "time"

// UserRegisteredEvent is published on domain_events when a user signs up
type UserRegisteredEvent struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (UserRegisteredEvent) Kind() EventKind     { return KindUserRegistered }
func (e UserRegisteredEvent) Recipient() string { return e.Email }
func (UserRegisteredEvent) sealed()             {}

// UserCreatedEvent is the canonical user created event
type UserCreatedEvent struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
}

func (UserCreatedEvent) Kind() EventKind     { return KindUserCreated }
func (e UserCreatedEvent) Recipient() string { return e.Email }
func (UserCreatedEvent) sealed()             {}

// InvestmentServiceUserEvent is the user created format published by the
// investment management service. Only the canonical fields are kept on conversion.
type InvestmentServiceUserEvent struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Surname    string     `json:"surname"`
	UserName   string     `json:"userName"`
	BornDate   *time.Time `json:"bornDate,omitempty"`
	CreateDate *time.Time `json:"createDate,omitempty"`
}

// ToUserCreatedEvent converts to the canonical shape
func (e InvestmentServiceUserEvent) ToUserCreatedEvent() UserCreatedEvent {
	return UserCreatedEvent{
		ID:      e.ID,
		Email:   e.Email,
		Name:    e.Name,
		Surname: e.Surname,
	}
}

// EmailCommand is sent by the account creation saga to request a notification
type EmailCommand struct {
	Email         string  `json:"email"`
	Name          *string `json:"name"`
	Surname       *string `json:"surname"`
	MailType      string  `json:"mailType"`
	FailureReason *string `json:"failureReason"`
	FileName      *string `json:"fileName,omitempty"`
	PDFBase64     *string `json:"pdfBase64,omitempty"`
}

func (EmailCommand) Kind() EventKind     { return KindEmailCommand }
func (c EmailCommand) Recipient() string { return c.Email }
func (EmailCommand) sealed()             {}

// MailKind returns the parsed mail type
func (c EmailCommand) MailKind() MailKind {
	return ParseMailKind(c.MailType)
}
