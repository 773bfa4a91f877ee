package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp_client "github.com/jeffsasaki/storefront/clients"
	"github.com/jeffsasaki/storefront/config"
	"github.com/jeffsasaki/storefront/logging"
	"github.com/jeffsasaki/storefront/notify"
	"github.com/jeffsasaki/storefront/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "notification-service",
		Short: "Delivers order events from the outbox to customer and admin notifications",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(relayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type worker struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *store.DB
	amqp   amqp_client.AmqpClient
}

func connect() (*worker, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	client, err := amqp_client.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := client.DeclareQueue(cfg.RabbitMQ.Queue); err != nil {
		client.Close()
		db.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.RabbitMQ.Queue, err)
	}

	return &worker{cfg: cfg, logger: logger, db: db, amqp: client}, nil
}

func (rt *worker) Close() {
	rt.amqp.Close()
	rt.db.Close()
	rt.logger.Sync()
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Apply queued order events as notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := notify.NewConsumer(notify.NewFanout(rt.db, rt.logger), rt.logger)
			if err := consumer.Start(rt.amqp, rt.cfg.RabbitMQ.Queue); err != nil {
				return fmt.Errorf("failed to register a consumer: %w", err)
			}

			rt.logger.Info("waiting for order events", zap.String("queue", rt.cfg.RabbitMQ.Queue))
			<-ctx.Done()
			rt.logger.Info("consumer stopping")
			return nil
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox messages to RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			relay := notify.NewRelay(rt.db, rt.amqp, rt.logger, rt.cfg.Outbox.PollInterval, rt.cfg.Outbox.BatchSize)
			rt.logger.Info("outbox relay started",
				zap.Duration("interval", rt.cfg.Outbox.PollInterval), zap.Int("batch_size", rt.cfg.Outbox.BatchSize))
			relay.Run(ctx)
			rt.logger.Info("outbox relay stopped")
			return nil
		},
	}
}
