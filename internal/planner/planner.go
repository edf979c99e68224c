// Package planner runs the reference path estimator in a fixed-rate control
// loop, pulling inputs from its collaborators and publishing every path to
// a set of sinks.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/refpath/internal/config"
	"github.com/banshee-data/refpath/internal/monitoring"
	"github.com/banshee-data/refpath/internal/refpath"
	"github.com/banshee-data/refpath/internal/timeutil"
)

// ErrNoPerception is returned by New when Sources.Perception is nil.
var ErrNoPerception = errors.New("planner needs a perception source")

// Config holds the control loop settings.
type Config struct {
	Estimator    refpath.Config
	LoopInterval time.Duration
	UseRouting   bool
	// Clock drives the loop ticker and output timestamps. nil means
	// timeutil.RealClock.
	Clock timeutil.Clock
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Estimator:    refpath.ConfigFromTuning(cfg),
		LoopInterval: cfg.GetLoopInterval(),
		UseRouting:   cfg.GetUseRouting(),
	}
}

// Output is one published reference path.
type Output struct {
	Tick        uint64                `json:"tick"`
	Path        refpath.ReferencePath `json:"path"`
	InitOffset  float64               `json:"init_offset"`
	Speed       refpath.Speed         `json:"speed_mps"`
	UsedRouting bool                  `json:"used_routing"`
	At          time.Time             `json:"at"`
}

// Planner owns an Estimator and drives it from one goroutine. Only Latest
// is safe to call concurrently with Tick or Run.
type Planner struct {
	cfg       Config
	src       Sources
	sinks     []PathSink
	estimator *refpath.Estimator
	clock     timeutil.Clock
	ticks     uint64

	mu        sync.Mutex
	latest    Output
	hasLatest bool
}

// New builds a Planner with its own Estimator.
func New(cfg Config, src Sources, sinks ...PathSink) (*Planner, error) {
	if src.Perception == nil {
		return nil, ErrNoPerception
	}
	if cfg.LoopInterval <= 0 {
		return nil, fmt.Errorf("loop interval must be positive, got %v", cfg.LoopInterval)
	}
	est, err := refpath.NewEstimator(cfg.Estimator)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Planner{
		cfg:       cfg,
		src:       src,
		sinks:     sinks,
		estimator: est,
		clock:     clock,
	}, nil
}

// Config returns the settings the planner was built with.
func (p *Planner) Config() Config { return p.cfg }

// Estimator exposes the planner's estimator for inspection. It must not be
// driven from another goroutine.
func (p *Planner) Estimator() *refpath.Estimator { return p.estimator }

// Tick runs one control iteration. It reports false with a nil error when
// perception had nothing and the tick was skipped. Sink errors are joined
// and returned after every sink has been called; the estimator state has
// already advanced by then.
func (p *Planner) Tick(ctx context.Context) (Output, bool, error) {
	left, right, ok := p.src.Perception.LaneMarkers()
	if !ok {
		monitoring.Debugf("planner: no lane markers, skipping tick")
		return Output{}, false, nil
	}

	speed := refpath.NoSpeed()
	if p.src.Speed != nil {
		speed = p.src.Speed.Speed()
	}

	var (
		path        refpath.ReferencePath
		err         error
		usedRouting bool
	)
	if routing, ok := p.routingSegment(); ok {
		path, err = p.estimator.PathWithRouting(left, right, routing, speed)
		// routing shorter than the horizon is ignored by the estimator
		usedRouting = err == nil && len(routing) >= path.Length
	} else {
		path, err = p.estimator.PathFromLaneMarkers(left, right, speed)
	}
	if err != nil {
		return Output{}, false, fmt.Errorf("estimate reference path: %w", err)
	}

	initOffset, _ := p.estimator.PreviousOffset()
	p.ticks++
	out := Output{
		Tick:        p.ticks,
		Path:        path,
		InitOffset:  initOffset,
		Speed:       speed,
		UsedRouting: usedRouting,
		At:          p.clock.Now(),
	}

	p.mu.Lock()
	p.latest, p.hasLatest = out, true
	p.mu.Unlock()

	monitoring.Debugf("planner: tick=%d length=%d init_offset=%.3f routing=%v",
		out.Tick, path.Length, initOffset, usedRouting)

	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return out, true, errors.Join(errs...)
}

func (p *Planner) routingSegment() (orb.LineString, bool) {
	if !p.cfg.UseRouting || p.src.Routing == nil || p.src.Localization == nil {
		return nil, false
	}
	pose, ok := p.src.Localization.Pose()
	if !ok {
		return nil, false
	}
	return p.src.Routing.LocalSegment(pose), true
}

// Run ticks every LoopInterval until ctx is done. Tick errors are logged
// and the loop carries on.
func (p *Planner) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, _, err := p.Tick(ctx); err != nil {
				monitoring.Logf("planner: tick failed: %v", err)
			}
		}
	}
}

// Latest returns the most recently published Output. The path slice is
// shared and must not be modified.
func (p *Planner) Latest() (Output, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasLatest
}
