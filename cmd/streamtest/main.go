// streamtest publishes test envelopes to a configured consumer's queue.
// Usage: go run ./cmd/streamtest --config configs/supervisor.local.yaml --consumer orders
//
// Run it next to the supervisor to watch deliveries flow, then restart the
// broker to exercise reconnection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rickgao/stream-supervisor/internal/broker"
	"github.com/rickgao/stream-supervisor/internal/config"
	"github.com/rickgao/stream-supervisor/internal/stream"
)

type tick struct {
	Seq       int64  `json:"seq"`
	Publisher string `json:"publisher"`
}

func main() {
	configPath := flag.String("config", "configs/supervisor.local.yaml", "path to config file")
	consumerID := flag.String("consumer", "", "consumer whose queue receives messages (default: first configured)")
	rate := flag.Duration("interval", 500*time.Millisecond, "delay between messages")
	count := flag.Int64("count", 0, "stop after this many messages (0 = until interrupted)")
	declare := flag.Bool("declare", false, "declare the queue as durable before publishing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	target, err := pickConsumer(cfg.Consumers, *consumerID)
	if err != nil {
		logger.Error("no target queue", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	details, err := stream.NewConsumer(target).QueueDetails()
	if err != nil {
		logger.Error("invalid queue details", "consumer", target.ID, "error", err)
		os.Exit(1)
	}
	params, err := broker.NewParams(details, broker.Options{
		Heartbeat:      cfg.Broker.HeartbeatInterval,
		ConnectionName: "streamtest/" + target.ID,
	})
	if err != nil {
		logger.Error("invalid connection params", "error", err)
		os.Exit(1)
	}

	conn, err := amqp.DialConfig(params.URI(), params.Config())
	if err != nil {
		logger.Error("failed to connect", "broker", params.Redacted(), "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("failed to open channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if *declare {
		if _, err := ch.QueueDeclare(details.Name, true, false, false, false, nil); err != nil {
			logger.Error("failed to declare queue", "queue", details.Name, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("publishing started - press Ctrl+C to stop",
		"broker", params.Redacted(),
		"queue", details.Name,
		"interval", *rate,
	)

	published, failed := publish(ctx, ch, details.Name, *rate, *count, logger)

	logger.Info("shutdown complete", "published", published, "failed", failed)
}

func pickConsumer(consumers []config.ConsumerConfig, id string) (config.ConsumerConfig, error) {
	if len(consumers) == 0 {
		return config.ConsumerConfig{}, fmt.Errorf("config has no consumers")
	}
	if id == "" {
		return consumers[0], nil
	}
	for _, c := range consumers {
		if c.ID == id {
			return c, nil
		}
	}
	return config.ConsumerConfig{}, fmt.Errorf("consumer %q not configured", id)
}

func publish(ctx context.Context, ch *amqp.Channel, queue string, interval time.Duration, limit int64, logger *slog.Logger) (published, failed int64) {
	host, _ := os.Hostname()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()

	var seq int64
	for limit == 0 || seq < limit {
		select {
		case <-ctx.Done():
			return published, failed
		case <-stats.C:
			logger.Info("stats", "published", published, "failed", failed)
			continue
		case <-ticker.C:
		}
		seq++

		body, err := stream.Encode("tick", tick{Seq: seq, Publisher: host}, time.Now())
		if err != nil {
			logger.Error("encode failed", "error", err)
			failed++
			continue
		}

		err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			logger.Warn("publish failed", "seq", seq, "error", err)
			failed++
			continue
		}
		published++
	}
	return published, failed
}
