package resilience

import (
	"context"
	"fmt"
)

// ResourcePool bounds concurrent use of one named resource. Acquire blocks
// until a slot frees or the context is done; TryAcquire never blocks.
type ResourcePool struct {
	name  string
	slots chan struct{}
}

// NewResourcePool creates a pool with the given number of slots.
func NewResourcePool(name string, size int) *ResourcePool {
	if size < 1 {
		size = 1
	}
	return &ResourcePool{
		name:  name,
		slots: make(chan struct{}, size),
	}
}

// Name returns the resource name the pool guards.
func (p *ResourcePool) Name() string { return p.name }

// Acquire takes a slot, blocking until one is available or ctx is done.
// The returned release function must be called exactly once.
func (p *ResourcePool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
		return p.release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a slot without blocking, or fails with ErrPoolExhausted.
func (p *ResourcePool) TryAcquire() (func(), error) {
	select {
	case p.slots <- struct{}{}:
		return p.release, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrPoolExhausted, p.name)
	}
}

func (p *ResourcePool) release() {
	<-p.slots
}

// InUse returns the number of currently held slots.
func (p *ResourcePool) InUse() int { return len(p.slots) }
