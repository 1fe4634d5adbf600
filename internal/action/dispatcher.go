package action

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// MaxUnits is the most tokens used by one dispatch. Tokens beyond the first
// MaxUnits are ignored, not queued.
const MaxUnits = 100

// Performer carries out a single action for target using token.
type Performer interface {
	Perform(ctx context.Context, target, token string) error
}

// PerformerFunc adapts a function to the Performer interface.
type PerformerFunc func(ctx context.Context, target, token string) error

func (f PerformerFunc) Perform(ctx context.Context, target, token string) error {
	return f(ctx, target, token)
}

// Result tallies the outcome of a dispatch.
type Result struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Total is the number of units that ran.
func (r Result) Total() int {
	return r.SuccessCount + r.FailedCount
}

// Dispatcher fans an action out over a token list.
type Dispatcher struct {
	performer Performer
	calls     metric.Int64Counter
}

const instrumentationName = "github.com/friendrelay/friendrelay/internal/action"

func NewDispatcher(performer Performer) *Dispatcher {
	return NewDispatcherWithMeter(performer, otel.Meter(instrumentationName))
}

// NewDispatcherWithMeter creates a dispatcher recording call outcomes with
// the supplied meter.
func NewDispatcherWithMeter(performer Performer, meter metric.Meter) *Dispatcher {
	calls, err := meter.Int64Counter(
		"action.dispatch.calls",
		metric.WithDescription("Action calls by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Dispatcher{
		performer: performer,
		calls:     calls,
	}
}

// Dispatch performs the action for target once per token, for at most the
// first MaxUnits tokens, all concurrently. It returns once every unit has
// finished. Failures are counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, target string, tokens []string) Result {
	if len(tokens) == 0 {
		return Result{}
	}

	selected := tokens[:min(len(tokens), MaxUnits)]
	if len(tokens) > MaxUnits {
		log.Ctx(ctx).Info().
			Int("available", len(tokens)).
			Int("used", MaxUnits).
			Msg("token list truncated for dispatch")
	}

	start := time.Now()
	var succeeded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(MaxUnits)
	for _, tok := range selected {
		g.Go(func() error {
			if d.perform(ctx, target, tok) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		SuccessCount: int(succeeded.Load()),
		FailedCount:  int(failed.Load()),
	}

	log.Ctx(ctx).Info().
		Str("target", target).
		Int("success", result.SuccessCount).
		Int("failed", result.FailedCount).
		Dur("elapsed", time.Since(start)).
		Msg("dispatch complete")

	return result
}

// perform runs one unit, converting errors and panics into a failed outcome.
func (d *Dispatcher) perform(ctx context.Context, target, token string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Warn().Str("target", target).Str("panic", fmt.Sprint(r)).Msg("action unit panicked")
			ok = false
		}
		d.record(ctx, ok)
	}()

	if err := d.performer.Perform(ctx, target, token); err != nil {
		log.Ctx(ctx).Info().Err(err).Str("target", target).Msg("action call failed")
		return false
	}

	return true
}

func (d *Dispatcher) record(ctx context.Context, ok bool) {
	if d.calls == nil {
		return
	}

	outcome := "failure"
	if ok {
		outcome = "success"
	}
	d.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
