package mq

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"storepulse/internal/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader a Consumer drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HandlerFunc processes one message. A returned error is logged and the offset is still
// committed: poison messages must not block the partition.
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Consumer runs a fetch → handle → commit loop on its own goroutine.
type Consumer struct {
	name    string
	reader  MessageReader
	handler HandlerFunc
	backoff time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(name string, reader MessageReader, handler HandlerFunc) *Consumer {
	return &Consumer{name: name, reader: reader, handler: handler, backoff: time.Second}
}

// Start begins consuming until ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := logger.Ctx(ctx)
		log.Info().Str("consumer", c.name).Msg("kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Info().Str("consumer", c.name).Msg("kafka consumer shutting down")
					return
				}
				log.Error().Err(err).Str("consumer", c.name).Msg("could not fetch message, retrying")
				select {
				case <-time.After(c.backoff):
				case <-ctx.Done():
					return
				}
				continue
			}

			msgCtx := ExtractTraceContext(ctx, msg)
			if err := c.handler(msgCtx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).
					Str("consumer", c.name).
					Str("topic", msg.Topic).
					Int64("offset", msg.Offset).
					Msg("message handling failed")
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("consumer", c.name).Msg("failed to commit message")
			}
		}
	}()
}

// Stop cancels the loop, closes the reader and waits for the goroutine to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.reader.Close()
	c.wg.Wait()
}
