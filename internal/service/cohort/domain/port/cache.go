package port

import (
	"context"
	"time"
)

// ReportCache is the Result Cache. Get reports found=false on a miss.
type ReportCache interface {
	Get(ctx context.Context, key string, target any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}
