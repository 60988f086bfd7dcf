package sweep

import "context"

// Pool deals devices out to layer jobs with exclusive ownership: a device
// handed to one job is unavailable until that job releases it. The pool is
// filled in slot order, so the first wave of jobs lands round-robin.
type Pool struct {
	devices chan string
	size    int
}

// NewPool builds a device pool; empty input falls back to a single cpu.
func NewPool(devices []string) *Pool {
	if len(devices) == 0 {
		devices = []string{"cpu"}
	}
	ch := make(chan string, len(devices))
	for _, d := range devices {
		ch <- d
	}
	return &Pool{devices: ch, size: len(devices)}
}

// Acquire blocks until a device is free or the context ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case d := <-p.devices:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release returns a device to the pool.
func (p *Pool) Release(device string) {
	p.devices <- device
}

// Count reports the pool size.
func (p *Pool) Count() int { return p.size }
