package messaging

import (
	"bytes"
	"encoding/base64"
	"html"
	"log/slog"
	"testing"

	"github.com/glimte/mailrelay/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestComposeFullName(t *testing.T) {
	tests := []struct {
		name, first, last, want string
	}{
		{"both", "Ann", "Lee", "Ann Lee"},
		{"only first", "Ann", "", "Ann"},
		{"only last", "", "Lee", "Lee"},
		{"neither", "", "", "Valued Customer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposeFullName(tt.first, tt.last))
		})
	}
}

func TestRouterUserRegistered(t *testing.T) {
	r := NewRouter()

	email, ok := r.Route(contracts.UserRegisteredEvent{Email: "jane@example.com", Username: "jane_d"})

	require.True(t, ok)
	assert.Equal(t, "jane@example.com", email.To)
	assert.Equal(t, SubjectUserRegistered, email.Subject)
	assert.Contains(t, email.HTMLBody, "Hello jane_d,")
	assert.Nil(t, email.Attachment)
}

func TestRouterUserCreated(t *testing.T) {
	r := NewRouter()

	tests := []struct {
		name  string
		event contracts.UserCreatedEvent
		want  string
	}{
		{"full name", contracts.UserCreatedEvent{Email: "a@b.c", Name: "Ann", Surname: "Lee"}, "Hello Ann Lee,"},
		{"first name", contracts.UserCreatedEvent{Email: "a@b.c", Name: "Ann"}, "Hello Ann,"},
		{"surname", contracts.UserCreatedEvent{Email: "a@b.c", Surname: "Lee"}, "Hello Lee,"},
		{"no name", contracts.UserCreatedEvent{Email: "a@b.c"}, "Hello Valued Customer,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, ok := r.Route(tt.event)

			require.True(t, ok)
			assert.Equal(t, SubjectWelcome, email.Subject)
			assert.Contains(t, email.HTMLBody, tt.want)
		})
	}
}

func TestRouterEmailCommand(t *testing.T) {
	r := NewRouter()

	t.Run("welcome", func(t *testing.T) {
		email, ok := r.Route(contracts.EmailCommand{
			Email:    "a@b.com",
			Name:     strPtr("Ann"),
			Surname:  strPtr("Lee"),
			MailType: contracts.MailTypeWelcome,
		})

		require.True(t, ok)
		assert.Equal(t, "a@b.com", email.To)
		assert.Contains(t, email.Subject, "Welcome")
		assert.Contains(t, email.HTMLBody, "Ann Lee")
	})

	t.Run("failure with reason", func(t *testing.T) {
		email, ok := r.Route(contracts.EmailCommand{
			Email:         "a@b.com",
			Name:          strPtr("Ann"),
			MailType:      contracts.MailTypeFailure,
			FailureReason: strPtr("Identity verification failed"),
		})

		require.True(t, ok)
		assert.Equal(t, SubjectFailure, email.Subject)
		assert.Contains(t, email.HTMLBody, "Ann")
		assert.Contains(t, email.HTMLBody, "Identity verification failed")
	})

	t.Run("markup characters are escaped", func(t *testing.T) {
		reason := `Email 'a@b.com' already exists & is <locked>`
		email, ok := r.Route(contracts.EmailCommand{
			Email:         "a@b.com",
			Name:          strPtr("Sean"),
			Surname:       strPtr(`O'Brien "Jr"`),
			MailType:      contracts.MailTypeFailure,
			FailureReason: strPtr(reason),
		})

		require.True(t, ok)
		assert.NotContains(t, email.HTMLBody, "<locked>")
		assert.Contains(t, html.UnescapeString(email.HTMLBody), reason)
		assert.Contains(t, html.UnescapeString(email.HTMLBody), `Sean O'Brien "Jr"`)
	})

	t.Run("failure without reason", func(t *testing.T) {
		email, ok := r.Route(contracts.EmailCommand{Email: "a@b.com", MailType: contracts.MailTypeFailure})

		require.True(t, ok)
		assert.Contains(t, email.HTMLBody, "Valued Customer")
		assert.Contains(t, email.HTMLBody, UnknownFailureReason)
	})

	t.Run("failure with empty reason", func(t *testing.T) {
		email, ok := r.Route(contracts.EmailCommand{
			Email:         "a@b.com",
			MailType:      contracts.MailTypeFailure,
			FailureReason: strPtr(""),
		})

		require.True(t, ok)
		assert.Contains(t, email.HTMLBody, UnknownFailureReason)
	})

	t.Run("unknown mail types are skipped", func(t *testing.T) {
		for _, mailType := range []string{"", "Reminder", "welcome", "FAILURE"} {
			_, ok := r.Route(contracts.EmailCommand{Email: "a@b.com", MailType: mailType})
			assert.False(t, ok, mailType)
		}
	})

	t.Run("html in values is escaped", func(t *testing.T) {
		email, ok := r.Route(contracts.EmailCommand{
			Email:    "a@b.com",
			Name:     strPtr("<script>x</script>"),
			MailType: contracts.MailTypeWelcome,
		})

		require.True(t, ok)
		assert.NotContains(t, email.HTMLBody, "<script>")
	})
}

func TestRouterAttachment(t *testing.T) {
	pdf := []byte("%PDF-1.4 test")

	t.Run("valid attachment", func(t *testing.T) {
		r := NewRouter()
		email, ok := r.Route(contracts.EmailCommand{
			Email:     "a@b.com",
			MailType:  contracts.MailTypeWelcome,
			FileName:  strPtr("contract.pdf"),
			PDFBase64: strPtr(base64.StdEncoding.EncodeToString(pdf)),
		})

		require.True(t, ok)
		require.NotNil(t, email.Attachment)
		assert.Equal(t, "contract.pdf", email.Attachment.Filename)
		assert.Equal(t, pdf, email.Attachment.Data)
	})

	t.Run("invalid base64 sends without attachment", func(t *testing.T) {
		var logs bytes.Buffer
		r := NewRouter(WithRouterLogger(slog.New(slog.NewTextHandler(&logs, nil))))

		email, ok := r.Route(contracts.EmailCommand{
			Email:     "a@b.com",
			MailType:  contracts.MailTypeFailure,
			FileName:  strPtr("contract.pdf"),
			PDFBase64: strPtr("not base64!!"),
		})

		require.True(t, ok)
		assert.Nil(t, email.Attachment)
		assert.Contains(t, logs.String(), "invalid attachment encoding")
	})

	t.Run("file name without data", func(t *testing.T) {
		email, ok := NewRouter().Route(contracts.EmailCommand{
			Email:    "a@b.com",
			MailType: contracts.MailTypeWelcome,
			FileName: strPtr("contract.pdf"),
		})

		require.True(t, ok)
		assert.Nil(t, email.Attachment)
	})
}

func TestRouterEmptyRecipient(t *testing.T) {
	r := NewRouter()

	events := []contracts.Event{
		contracts.UserRegisteredEvent{Username: "jane"},
		contracts.UserCreatedEvent{Name: "Ann"},
		contracts.EmailCommand{MailType: contracts.MailTypeWelcome},
		contracts.EmailCommand{MailType: contracts.MailTypeFailure},
	}

	for _, event := range events {
		_, ok := r.Route(event)
		assert.False(t, ok, event.Kind().String())
	}

	_, ok := r.Route(nil)
	assert.False(t, ok)
}
