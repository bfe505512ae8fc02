package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

// DispatcherService runs the dispatcher workers until the tree stops.
type DispatcherService struct {
	dispatcher *service.Dispatcher
}

func NewDispatcherService(d *service.Dispatcher) *DispatcherService {
	return &DispatcherService{dispatcher: d}
}

func (s *DispatcherService) Serve(ctx context.Context) error {
	if err := s.dispatcher.Serve(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Drained: the queue is closed for good.
	return suture.ErrDoNotRestart
}

func (s *DispatcherService) String() string {
	return "dispatcher"
}

// Trigger is a periodic job fired by cron.
type Trigger struct {
	Name       string
	Expression string
	Run        func(ctx context.Context) error
	// Busy errors mean another process already did the work; they are
	// logged at debug.
	Busy []error
}

// TriggerService fires periodic jobs on standard cron expressions. A trigger
// still running when its next activation comes is skipped.
type TriggerService struct {
	triggers []Trigger
	logger   zerolog.Logger
}

func NewTriggerService(logger zerolog.Logger, triggers ...Trigger) *TriggerService {
	return &TriggerService{
		triggers: triggers,
		logger:   logger.With().Str("component", "triggers").Logger(),
	}
}

func (s *TriggerService) Serve(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))

	for _, t := range s.triggers {
		if _, err := c.AddFunc(t.Expression, func() { s.fire(ctx, t) }); err != nil {
			return fmt.Errorf("trigger %s: invalid expression %q: %w", t.Name, t.Expression, err)
		}
		s.logger.Info().Str("trigger", t.Name).Str("expression", t.Expression).Msg("trigger registered")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *TriggerService) fire(ctx context.Context, t Trigger) {
	if ctx.Err() != nil {
		return
	}
	err := t.Run(ctx)
	switch {
	case err == nil:
	case isAny(err, t.Busy):
		s.logger.Debug().Err(err).Str("trigger", t.Name).Msg("trigger skipped")
	default:
		s.logger.Error().Err(err).Str("trigger", t.Name).Msg("trigger failed")
	}
}

func (s *TriggerService) String() string {
	return "triggers"
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
