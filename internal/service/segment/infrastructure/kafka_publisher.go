package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"storepulse/internal/pkg/mq"
	"storepulse/internal/service/segment/domain"
)

// KafkaEventPublisher publishes segment events keyed by segment id, so events of one segment stay ordered.
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) PublishSegmentRecalculated(ctx context.Context, evt domain.SegmentRecalculated) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal segment event")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(evt.SegmentID), payload); err != nil {
		return errors.Wrap(err, "produce segment event")
	}
	return nil
}
