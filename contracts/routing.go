package contracts

// Exchanges, queues and routing keys with fixed names. The saga exchange,
// queue and routing key are configured at runtime.
const (
	DomainEventsExchange = "domain_events"
	UserRegisteredQueue  = "user_registered_queue"
	UserRegisteredKey    = "user.registered"

	InvestmentExchange = "investment_exchange"
	UserCreatedQueue   = "user_created_queue"
)

// UserCreatedKeys lists every routing key the investment service has used for
// user created events
var UserCreatedKeys = []string{"UserCreatedEvent", "User.Created", "user.created"}

// Saga defaults
const (
	DefaultSagaExchange   = "saga.commands"
	DefaultSagaQueue      = "email.command.queue"
	DefaultSagaRoutingKey = "saga.email.command"
)
