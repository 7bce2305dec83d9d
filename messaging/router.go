package messaging

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"
	"log/slog"
	"strings"

	"github.com/glimte/mailrelay/contracts"
	"github.com/glimte/mailrelay/mail"
)

// Subjects of the rendered mails
const (
	SubjectUserRegistered = "Welcome - Your Account Has Been Created Successfully"
	SubjectWelcome        = "Welcome to Investment Management Service"
	SubjectFailure        = "Account Creation Failed"
)

// FallbackName is used when an event carries neither name nor surname
const FallbackName = "Valued Customer"

// UnknownFailureReason is used when a failure command carries no reason
const UnknownFailureReason = "Unknown error"

//go:embed templates/*.html
var templateFS embed.FS

// Router turns events into emails. It holds no mutable state.
type Router struct {
	templates *template.Template
	logger    *slog.Logger
}

// RouterOption configures the Router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router using the embedded mail templates
func NewRouter(options ...RouterOption) *Router {
	r := &Router{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// ComposeFullName joins name and surname, skipping empty parts, and falls
// back to FallbackName when both are empty
func ComposeFullName(name, surname string) string {
	switch {
	case name != "" && surname != "":
		return name + " " + surname
	case name != "":
		return name
	case surname != "":
		return surname
	default:
		return FallbackName
	}
}

// Route returns the email for event. The second result is false when no email
// should be sent.
func (r *Router) Route(event contracts.Event) (mail.Email, bool) {
	if event == nil {
		return mail.Email{}, false
	}
	if event.Recipient() == "" {
		r.logger.Warn("cannot send email: recipient address is empty", "event", event.Kind().String())
		return mail.Email{}, false
	}

	switch e := event.(type) {
	case contracts.UserRegisteredEvent:
		return r.render(e.Email, SubjectUserRegistered, "welcome_registered", map[string]string{
			"Username": e.Username,
		})

	case contracts.UserCreatedEvent:
		return r.render(e.Email, SubjectWelcome, "welcome", map[string]string{
			"FullName": ComposeFullName(e.Name, e.Surname),
		})

	case contracts.EmailCommand:
		return r.routeCommand(e)

	default:
		r.logger.Warn("no route for event", "event", event.Kind().String())
		return mail.Email{}, false
	}
}

func (r *Router) routeCommand(cmd contracts.EmailCommand) (mail.Email, bool) {
	fullName := ComposeFullName(deref(cmd.Name), deref(cmd.Surname))

	var (
		email mail.Email
		ok    bool
	)

	switch cmd.MailKind() {
	case contracts.MailKindWelcome:
		email, ok = r.render(cmd.Email, SubjectWelcome, "welcome", map[string]string{
			"FullName": fullName,
		})

	case contracts.MailKindFailure:
		reason := deref(cmd.FailureReason)
		if reason == "" {
			reason = UnknownFailureReason
		}
		email, ok = r.render(cmd.Email, SubjectFailure, "failure", map[string]string{
			"FullName": fullName,
			"Reason":   reason,
		})

	case contracts.MailKindUnknown:
		r.logger.Warn("unknown mail type, skipping", "mailType", cmd.MailType, "to", cmd.Email)
		return mail.Email{}, false
	}

	if ok {
		email.Attachment = r.attachment(cmd)
	}
	return email, ok
}

// attachment decodes the optional PDF of a command. An invalid payload is
// logged and the mail is sent without it.
func (r *Router) attachment(cmd contracts.EmailCommand) *mail.Attachment {
	fileName, data := strings.TrimSpace(deref(cmd.FileName)), strings.TrimSpace(deref(cmd.PDFBase64))
	if fileName == "" || data == "" {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		r.logger.Warn("invalid attachment encoding, sending without attachment",
			"to", cmd.Email, "fileName", fileName, "error", err)
		return nil
	}

	return &mail.Attachment{Filename: fileName, Data: decoded}
}

func (r *Router) render(to, subject, name string, data map[string]string) (mail.Email, bool) {
	var body bytes.Buffer
	if err := r.templates.ExecuteTemplate(&body, name, data); err != nil {
		r.logger.Error("failed to render mail template", "template", name, "error", err)
		return mail.Email{}, false
	}

	return mail.Email{
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
