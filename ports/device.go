package ports

import "context"

// DevicePort hands out compute placements to concurrent layer jobs. A device
// is held exclusively between Acquire and Release, so at most one job runs on
// it at a time. The placement string is carried through configs and
// checkpoints for audit; the probes themselves are device-agnostic.
type DevicePort interface {
	Acquire(ctx context.Context) (string, error)
	Release(device string)
	Count() int
}
