package watch

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/logging"
	"github.com/conduit-lang/autowire/internal/metrics"
)

// PassFunc runs one generation pass to completion
type PassFunc func(ctx context.Context) error

// Regenerator runs passes one at a time on a single goroutine. A trigger
// that arrives while a pass is running queues exactly one follow-up pass;
// further triggers fold into it.
type Regenerator struct {
	pass    PassFunc
	trigger chan struct{}
	logger  *zap.Logger
	metrics *metrics.Recorder

	passes    atomic.Int64
	coalesced atomic.Int64
}

// NewRegenerator creates a regenerator around pass
func NewRegenerator(pass PassFunc, logger *zap.Logger, recorder *metrics.Recorder) *Regenerator {
	logger = logging.OrNop(logger)
	return &Regenerator{
		pass:    pass,
		trigger: make(chan struct{}, 1),
		logger:  logger,
		metrics: recorder,
	}
}

// Trigger requests a pass. It never blocks and reports false when the
// request was folded into one already pending.
func (r *Regenerator) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		r.coalesced.Add(1)
		r.metrics.Coalesced()
		return false
	}
}

// OnChange adapts the regenerator to FileWatcher callbacks
func (r *Regenerator) OnChange(files []string) {
	r.metrics.FileEvents(len(files))
	r.logger.Info("change detected", zap.Int("files", len(files)), zap.Strings("paths", files))
	r.Trigger()
}

// Run processes triggers until ctx is cancelled. A running pass is never
// interrupted; cancellation is observed between passes. Pass errors are
// logged and do not stop the loop, so the last good artifact keeps serving.
func (r *Regenerator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
		}

		// a trigger and cancellation may be ready together
		if ctx.Err() != nil {
			return nil
		}

		r.passes.Add(1)
		if err := r.pass(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("pass failed, keeping previous wiring", zap.Error(err))
		}
	}
}

// Passes returns how many passes have started
func (r *Regenerator) Passes() int64 {
	return r.passes.Load()
}

// CoalescedTriggers returns how many triggers were folded into a pending pass
func (r *Regenerator) CoalescedTriggers() int64 {
	return r.coalesced.Load()
}
