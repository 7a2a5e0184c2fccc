package app

import "context"

// repainter coalesces update signals: any number of Kicks while a paint is
// pending or running result in one more paint.
type repainter struct {
	kick chan struct{}
}

func newRepainter() *repainter {
	return &repainter{kick: make(chan struct{}, 1)}
}

// Kick requests a paint without blocking.
func (p *repainter) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run calls paint once per pending request until ctx is cancelled.
func (p *repainter) Run(ctx context.Context, paint func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			paint()
		}
	}
}
