package ratelimit

import (
	"context"
	"time"
)

// Pacer blocks between sends and between batches so runs stay under
// the provider's rate limits. The sleep function is injectable so
// pacing policy is testable without real delays.
type Pacer struct {
	messageDelay time.Duration
	batchDelay   time.Duration
	sleep        func(ctx context.Context, d time.Duration)
}

// NewPacer creates a pacer with the given delays.
func NewPacer(messageDelay, batchDelay time.Duration) *Pacer {
	return &Pacer{
		messageDelay: messageDelay,
		batchDelay:   batchDelay,
		sleep:        sleepCtx,
	}
}

// SetSleep replaces the sleep implementation (used in tests).
func (p *Pacer) SetSleep(fn func(ctx context.Context, d time.Duration)) {
	p.sleep = fn
}

// AfterMessage pauses for the per-message delay.
func (p *Pacer) AfterMessage(ctx context.Context) {
	if p.messageDelay > 0 {
		p.sleep(ctx, p.messageDelay)
	}
}

// AfterBatch pauses for the inter-batch delay.
func (p *Pacer) AfterBatch(ctx context.Context) {
	if p.batchDelay > 0 {
		p.sleep(ctx, p.batchDelay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
