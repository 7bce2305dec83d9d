package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEventVariants(t *testing.T) {
	t.Run("kinds and recipients", func(t *testing.T) {
		tests := []struct {
			event     Event
			kind      EventKind
			recipient string
		}{
			{UserRegisteredEvent{Email: "a@b.com", Username: "ann"}, KindUserRegistered, "a@b.com"},
			{UserCreatedEvent{ID: "1", Email: "c@d.com"}, KindUserCreated, "c@d.com"},
			{EmailCommand{Email: "", MailType: MailTypeWelcome}, KindEmailCommand, ""},
		}

		for _, tt := range tests {
			t.Run(tt.kind.String(), func(t *testing.T) {
				assert.Equal(t, tt.kind, tt.event.Kind())
				assert.Equal(t, tt.recipient, tt.event.Recipient())
			})
		}
	})

	t.Run("unknown kind string", func(t *testing.T) {
		assert.Equal(t, "unknown", EventKind(0).String())
	})
}

func TestCanonicalRoundTrip(t *testing.T) {
	t.Run("UserCreatedEvent", func(t *testing.T) {
		original := UserCreatedEvent{ID: "42", Email: "a@b.com", Name: "Ann", Surname: "Lee"}

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded UserCreatedEvent
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("UserRegisteredEvent", func(t *testing.T) {
		original := UserRegisteredEvent{Email: "a@b.com", Username: "ann"}

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded UserRegisteredEvent
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("EmailCommand keeps absent optionals absent", func(t *testing.T) {
		original := EmailCommand{
			Email:         "a@b.com",
			Name:          strPtr("Ann"),
			MailType:      MailTypeFailure,
			FailureReason: strPtr("Username already exists"),
		}

		data, err := json.Marshal(original)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"mailType":"Failure"`)
		assert.Contains(t, string(data), `"failureReason":"Username already exists"`)

		var decoded EmailCommand
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
		assert.Nil(t, decoded.Surname)
	})
}

func TestInvestmentServiceUserEvent(t *testing.T) {
	born := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	e := InvestmentServiceUserEvent{
		ID:       "7",
		Email:    "a@b.com",
		Name:     "Ann",
		UserName: "annlee",
		BornDate: &born,
	}

	converted := e.ToUserCreatedEvent()
	assert.Equal(t, UserCreatedEvent{ID: "7", Email: "a@b.com", Name: "Ann", Surname: ""}, converted)
}

func TestParseMailKind(t *testing.T) {
	tests := []struct {
		in   string
		want MailKind
	}{
		{"Welcome", MailKindWelcome},
		{"Failure", MailKindFailure},
		{"welcome", MailKindUnknown},
		{"", MailKindUnknown},
		{"Reminder", MailKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMailKind(tt.in))
			assert.Equal(t, tt.want, EmailCommand{MailType: tt.in}.MailKind())
		})
	}
}

func TestDecodeError(t *testing.T) {
	cause := errors.New("unexpected token")
	err := &DecodeError{
		RoutingKey: "user.created",
		Attempts:   []string{"InvestmentServiceUserEvent", "UserCreatedEvent"},
		Err:        cause,
	}

	assert.Contains(t, err.Error(), "user.created")
	assert.Contains(t, err.Error(), "InvestmentServiceUserEvent, UserCreatedEvent")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsDecodeError(err))
	assert.False(t, IsDecodeError(cause))
}
