package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-batch/internal/config"
)

// fetchBackoff is the pause after a fetch that failed all its retries.
const fetchBackoff = 500 * time.Millisecond

// requestHandler handles a single batch request message.
type requestHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer reads batch requests from the request topic and hands them to a handler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  requestHandler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer subscribed to cfg.RequestTopic as cfg.GroupID.
func New(cfg *config.Kafka, s retry.Strategy, h requestHandler) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.RequestTopic, cfg.GroupID)

	return &Consumer{
		Client:   consumer,
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume fetches requests until ctx is canceled. A message is committed once
// the handler returns without error; batches run one at a time.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.RequestTopic).
		Str("group", c.cfg.GroupID).
		Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			zlog.Logger.Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
			case <-time.After(fetchBackoff):
			}
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Int64("offset", msg.Offset).
				Str("message", string(msg.Value)).
				Msg("failed to handle batch request")
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Msg("batch request committed")
	}
}
