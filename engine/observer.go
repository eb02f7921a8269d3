package engine

import (
	"context"
	"time"

	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// stepEvents buffers step lifecycle hooks raised during a tick. They are
// delivered only after the tick commits; a rolled-back tick replays its
// steps on the next one.
type stepEvents struct {
	ext     *ext.Registry
	run     *run.Run
	pending []func(ctx context.Context)
}

var _ work.Observer = (*stepEvents)(nil)

func (o *stepEvents) StepStarted(_ *work.Context, s *work.Step) {
	o.pending = append(o.pending, func(ctx context.Context) {
		o.ext.EmitStepStarted(ctx, o.run, s)
	})
}

func (o *stepEvents) StepFinished(_ *work.Context, s *work.Step) {
	elapsed := s.EndedAt().Sub(s.StartedAt())
	o.pending = append(o.pending, func(ctx context.Context) {
		o.ext.EmitStepFinished(ctx, o.run, s, elapsed)
	})
}

func (o *stepEvents) StepTimedOut(_ *work.Context, s *work.Step, elapsed time.Duration) {
	o.pending = append(o.pending, func(ctx context.Context) {
		o.ext.EmitStepTimedOut(ctx, o.run, s, elapsed)
	})
}

func (o *stepEvents) flush(ctx context.Context) {
	for _, fn := range o.pending {
		fn(ctx)
	}
	o.pending = nil
}
