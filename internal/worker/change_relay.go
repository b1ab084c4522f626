package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Relay is a long-running subscription that returns when its connection breaks.
type Relay interface {
	Run(ctx context.Context) error
}

// RelayOptions tunes restart pacing.
type RelayOptions struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// StableAfter resets the delay once a run has lasted this long.
	StableAfter time.Duration
}

// RunChangeRelay keeps relay running until ctx ends, restarting it with
// exponential backoff whenever it fails.
func RunChangeRelay(ctx context.Context, relay Relay, opts RelayOptions, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = time.Minute
	}

	delay := backoff.NewExponentialBackOff()
	if opts.InitialDelay > 0 {
		delay.InitialInterval = opts.InitialDelay
	}
	if opts.MaxDelay > 0 {
		delay.MaxInterval = opts.MaxDelay
	}

	for {
		started := time.Now()
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			logger.Info("change relay stopped")
			return
		}
		if time.Since(started) >= opts.StableAfter {
			delay.Reset()
		}
		wait := delay.NextBackOff()
		logger.Warn("change relay disconnected, restarting",
			zap.Error(err),
			zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("change relay stopped")
			return
		case <-timer.C:
		}
	}
}
