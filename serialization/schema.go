package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/glimte/mailrelay/contracts"
)

// Schema decodes one payload shape into an event
type Schema struct {
	Name   string
	Decode func(data []byte) (contracts.Event, error)
}

// SchemaFor builds a Schema that unmarshals into T and converts the result
func SchemaFor[T any](name string, convert func(T) contracts.Event) Schema {
	return Schema{
		Name: name,
		Decode: func(data []byte) (contracts.Event, error) {
			if isNull(data) {
				return nil, contracts.ErrNullPayload
			}
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return convert(v), nil
		},
	}
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// UserRegisteredSchemas lists the accepted user registered shapes
func UserRegisteredSchemas() []Schema {
	return []Schema{
		SchemaFor("UserRegisteredEvent", func(e contracts.UserRegisteredEvent) contracts.Event { return e }),
	}
}

// UserCreatedSchemas lists the accepted user created shapes, investment service
// format first
func UserCreatedSchemas() []Schema {
	return []Schema{
		SchemaFor("InvestmentServiceUserEvent", func(e contracts.InvestmentServiceUserEvent) contracts.Event {
			return e.ToUserCreatedEvent()
		}),
		SchemaFor("UserCreatedEvent", func(e contracts.UserCreatedEvent) contracts.Event { return e }),
	}
}

// EmailCommandSchemas lists the accepted saga command shapes
func EmailCommandSchemas() []Schema {
	return []Schema{
		SchemaFor("EmailCommand", func(c contracts.EmailCommand) contracts.Event { return c }),
	}
}
