package port

import "context"

// Locker serializes work per key. Acquire blocks until the key is free or ctx is done;
// the returned release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
