package port

import (
	"context"

	"storepulse/internal/service/segment/domain"
)

type EventPublisher interface {
	PublishSegmentRecalculated(ctx context.Context, evt domain.SegmentRecalculated) error
}
