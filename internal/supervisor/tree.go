// Package supervisor runs the long-lived parts of the daemon under a suture
// tree: the dispatcher workers, the cron triggers and the ops server.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	// ShutdownTimeout bounds how long each service may take to stop. It must
	// cover the longest engine call a worker may need to abandon.
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Tree groups services in two layers so a crashing ops server never restarts
// the workers:
//   - work: dispatcher and cron triggers
//   - ops: HTTP server
type Tree struct {
	root *suture.Supervisor
	work *suture.Supervisor
	ops  *suture.Supervisor
}

func NewTree(logger zerolog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logger.With().Str("component", "supervisor").Logger())

	root := suture.New("vsispanel-backup", rootSpec)
	work := suture.New("work", spec)
	ops := suture.New("ops", spec)
	root.Add(work)
	root.Add(ops)

	return &Tree{root: root, work: work, ops: ops}
}

func (t *Tree) AddWorkService(svc suture.Service) suture.ServiceToken {
	return t.work.Add(svc)
}

func (t *Tree) AddOpsService(svc suture.Service) suture.ServiceToken {
	return t.ops.Add(svc)
}

// Serve blocks until ctx is canceled and every service has stopped or timed
// out.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// EventHook logs supervisor events through zerolog.
func EventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		event := logger.Warn()
		switch e.Type() {
		case suture.EventTypeResume:
			event = logger.Info()
		case suture.EventTypeServicePanic, suture.EventTypeBackoff:
			event = logger.Error()
		}
		event.Fields(e.Map()).Msg(e.String())
	}
}
