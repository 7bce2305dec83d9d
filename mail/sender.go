package mail

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"

	"github.com/glimte/mailrelay/internal/reliability"
	"gopkg.in/gomail.v2"
)

// DefaultPort is used when no valid SMTP port is configured
const DefaultPort = 587

// DefaultSenderName is used when no sender display name is configured
const DefaultSenderName = "Mail Service"

// Sender sends a single rendered email
type Sender interface {
	Send(ctx context.Context, email Email) error
	// Host returns the SMTP host, used as metrics label
	Host() string
}

// Dialer delivers gomail messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds the SMTP settings of the sender
type SMTPConfig struct {
	Host               string
	Port               int
	SenderAddress      string
	SenderName         string
	Username           string // defaults to SenderAddress
	Password           string
	InsecureSkipVerify bool
}

// SMTPSender sends mail through an SMTP server using gomail
type SMTPSender struct {
	cfg    SMTPConfig
	dialer Dialer
	logger *slog.Logger
}

// SMTPOption configures the SMTPSender
type SMTPOption func(*SMTPSender)

// WithDialer replaces the gomail dialer
func WithDialer(d Dialer) SMTPOption {
	return func(s *SMTPSender) {
		s.dialer = d
	}
}

// WithSenderLogger sets the logger
func WithSenderLogger(logger *slog.Logger) SMTPOption {
	return func(s *SMTPSender) {
		s.logger = logger
	}
}

// NewSMTPSender creates a new SMTP sender. Missing settings are not an error
// here; they are reported by Send as *ConfigurationError.
func NewSMTPSender(cfg SMTPConfig, options ...SMTPOption) *SMTPSender {
	s := &SMTPSender{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	if cfg.Port <= 0 {
		s.logger.Warn("invalid or missing SMTP port, using default", "port", DefaultPort)
		cfg.Port = DefaultPort
	}
	if cfg.SenderName == "" {
		cfg.SenderName = DefaultSenderName
	}
	if cfg.Username == "" {
		cfg.Username = cfg.SenderAddress
	}
	s.cfg = cfg

	if s.dialer == nil {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		if cfg.InsecureSkipVerify {
			s.logger.Warn("TLS verification disabled for SMTP connection", "host", cfg.Host)
			d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
		s.dialer = d
	}

	return s
}

// Host implements Sender
func (s *SMTPSender) Host() string {
	return s.cfg.Host
}

// Validate reports the first missing setting
func (s *SMTPSender) Validate() error {
	switch {
	case s.cfg.SenderAddress == "":
		return &ConfigurationError{Setting: "sender email address", Key: "mail.senderAddress"}
	case s.cfg.Host == "":
		return &ConfigurationError{Setting: "SMTP host", Key: "mail.host"}
	case s.cfg.Password == "":
		return &ConfigurationError{Setting: "SMTP password/key", Key: "mail.key"}
	}
	return nil
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if email.To == "" {
		return reliability.Permanent(ErrEmptyRecipient)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(email)

	s.logger.Debug("connecting to SMTP server", "host", s.cfg.Host, "port", s.cfg.Port)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return &SendError{Host: s.cfg.Host, Port: s.cfg.Port, To: email.To, Err: err}
	}

	s.logger.Info("email sent", "to", email.To, "subject", email.Subject,
		"attachment", email.Attachment != nil)
	return nil
}

func (s *SMTPSender) buildMessage(email Email) *gomail.Message {
	subject := email.Subject
	if subject == "" {
		subject = "No Subject"
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.cfg.SenderAddress, s.cfg.SenderName)
	msg.SetAddressHeader("To", email.To, email.To)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", email.HTMLBody)

	if a := email.Attachment; a != nil && a.Filename != "" && len(a.Data) > 0 {
		data := a.Data
		msg.Attach(a.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	return msg
}
