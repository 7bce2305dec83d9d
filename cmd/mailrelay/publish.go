package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glimte/mailrelay"
	"github.com/glimte/mailrelay/contracts"
	"github.com/glimte/mailrelay/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
)

// errMissingFlag is returned when a required publish field is empty
var errMissingFlag = errors.New("missing required flag")

// publishTarget is where a simulated event goes
type publishTarget struct {
	exchange   string
	routingKey string
	payload    any
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a test event to the relay exchanges",
	}

	publishCmd.AddCommand(
		newPublishUserRegisteredCmd(opts),
		newPublishUserCreatedCmd(opts),
		newPublishEmailCommandCmd(opts),
	)
	return publishCmd
}

func newPublishUserRegisteredCmd(opts *rootOptions) *cobra.Command {
	var event contracts.UserRegisteredEvent

	cmd := &cobra.Command{
		Use:   "user-registered",
		Short: "Publish a user registered event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if event.Email == "" {
				return fmt.Errorf("%w: --email", errMissingFlag)
			}
			return publish(cmd, opts, publishTarget{
				exchange:   contracts.DomainEventsExchange,
				routingKey: contracts.UserRegisteredKey,
				payload:    event,
			})
		},
	}

	cmd.Flags().StringVar(&event.Email, "email", "", "Recipient email address")
	cmd.Flags().StringVar(&event.Username, "username", "", "Username")
	return cmd
}

func newPublishUserCreatedCmd(opts *rootOptions) *cobra.Command {
	var (
		event      contracts.InvestmentServiceUserEvent
		routingKey string
	)

	cmd := &cobra.Command{
		Use:   "user-created",
		Short: "Publish a user created event as the investment service does",
		RunE: func(cmd *cobra.Command, args []string) error {
			if event.Email == "" {
				return fmt.Errorf("%w: --email", errMissingFlag)
			}
			if event.ID == "" {
				event.ID = fmt.Sprintf("sim-%d", time.Now().UnixNano())
			}
			now := time.Now().UTC()
			event.CreateDate = &now

			return publish(cmd, opts, publishTarget{
				exchange:   contracts.InvestmentExchange,
				routingKey: routingKey,
				payload:    event,
			})
		},
	}

	cmd.Flags().StringVar(&event.ID, "id", "", "User id (generated when empty)")
	cmd.Flags().StringVar(&event.Email, "email", "", "Recipient email address")
	cmd.Flags().StringVar(&event.Name, "name", "", "First name")
	cmd.Flags().StringVar(&event.Surname, "surname", "", "Last name")
	cmd.Flags().StringVar(&event.UserName, "username", "", "Username")
	cmd.Flags().StringVar(&routingKey, "routing-key", contracts.UserCreatedKeys[0], "Routing key, one of UserCreatedEvent, User.Created or user.created")
	return cmd
}

func newPublishEmailCommandCmd(opts *rootOptions) *cobra.Command {
	var (
		email, name, surname, mailType, reason, pdfPath string
	)

	cmd := &cobra.Command{
		Use:   "email-command",
		Short: "Publish a saga email command",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("%w: --email", errMissingFlag)
			}

			command := contracts.EmailCommand{
				Email:         email,
				Name:          optional(name),
				Surname:       optional(surname),
				MailType:      mailType,
				FailureReason: optional(reason),
			}

			if pdfPath != "" {
				data, err := os.ReadFile(pdfPath)
				if err != nil {
					return fmt.Errorf("reading attachment: %w", err)
				}
				command.FileName = optional(filepath.Base(pdfPath))
				command.PDFBase64 = optional(base64.StdEncoding.EncodeToString(data))
			}

			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			return publish(cmd, opts, publishTarget{
				exchange:   cfg.Saga.Exchange,
				routingKey: cfg.Saga.RoutingKey,
				payload:    command,
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Recipient email address")
	cmd.Flags().StringVar(&name, "name", "", "First name")
	cmd.Flags().StringVar(&surname, "surname", "", "Last name")
	cmd.Flags().StringVar(&mailType, "type", contracts.MailTypeWelcome, "Mail type: Welcome or Failure")
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")
	cmd.Flags().StringVar(&pdfPath, "attach", "", "PDF file to attach")
	return cmd
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// publish sends target.payload as JSON with a publisher confirm
func publish(cmd *cobra.Command, opts *rootOptions, target publishTarget) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}

	body, err := json.Marshal(target.payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RabbitMQ.DialTimeout+30*time.Second)
	defer cancel()

	broker, err := mailrelay.NewAMQPBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	if err := broker.Connect(ctx); err != nil {
		return err
	}

	publisher := rabbitmq.NewPublisher(broker.Pool(), rabbitmq.WithPublisherLogger(logger))
	err = publisher.Publish(ctx, target.exchange, target.routingKey, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published to %s [%s]: %s\n", target.exchange, target.routingKey, body)
	return nil
}
