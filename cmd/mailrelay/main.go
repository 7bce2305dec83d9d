package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimte/mailrelay"
	"github.com/glimte/mailrelay/config"
	"github.com/glimte/mailrelay/internal/rabbitmq"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mailrelay",
		Short: "Relay RabbitMQ events into email notifications",
		Long: `mailrelay consumes user and saga events from RabbitMQ and sends the
matching notification emails over SMTP.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: json or text")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newTopologyCmd(opts),
		newPublishCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// load reads the configuration and applies the logging flags
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg config.Log) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the relay queues and send emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := mailrelay.NewService(cfg, mailrelay.WithLogger(logger))
			if err != nil {
				return err
			}

			logger.Info("starting mailrelay",
				"version", version,
				"broker", rabbitmq.SanitizeURL(cfg.BrokerURL()),
				"listenAddress", cfg.Server.ListenAddress,
			)

			runErr := service.Run(ctx)
			if runErr != nil {
				logger.Error("relay stopped", "error", runErr)
			}

			if err := service.Close(); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
			}
			logger.Info("mailrelay stopped")
			return runErr
		},
	}
}

func newTopologyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the exchanges, queues and bindings of the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
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

			topology := rabbitmq.MailRelayTopology(cfg.SagaNames())
			if err := broker.DeclareTopology(ctx, topology); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ex := range topology.Exchanges {
				fmt.Fprintf(out, "exchange %s (%s)\n", ex.Name, ex.Type)
			}
			for _, b := range topology.Bindings {
				fmt.Fprintf(out, "queue %s <- %s [%s]\n", b.Queue, b.Exchange, b.RoutingKey)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailrelay %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}
