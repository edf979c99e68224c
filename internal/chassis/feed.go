// Package chassis turns the line stream of the vehicle gateway serial link
// into the latest decoded inputs of the reference path planner: speed,
// pose, lane-marker fits and routing samples.
//
// A line is either a bare number, read as a speed in m/s, or a JSON object:
//
//	{"speed": 12.3, "units": "mph",
//	 "x": 1.0, "y": -0.4, "heading": 0.02,
//	 "left": {"coef": [1.8, 0, 0.001, 0], "quality": 0.9},
//	 "right": {"coef": [-1.7, 0, 0.001, 0], "quality": 0.8},
//	 "routing": [0.05, 0.05, 0.06]}
//
// Every group is optional, but x, y and heading travel together and so do
// left and right. routing holds the lateral offset of the route at stations
// 0, 1, 2... in the vehicle frame. Lines that do not parse are logged and
// dropped.
package chassis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/refpath/internal/config"
	"github.com/banshee-data/refpath/internal/monitoring"
	"github.com/banshee-data/refpath/internal/refpath"
	"github.com/banshee-data/refpath/internal/serialmux"
	"github.com/banshee-data/refpath/internal/timeutil"
	"github.com/banshee-data/refpath/internal/units"
)

// ErrMalformedLine is returned by ParseLine for lines it cannot use.
var ErrMalformedLine = errors.New("malformed chassis line")

// Sample is one decoded gateway line. Absent groups are nil.
type Sample struct {
	SpeedMPS    *float64
	Pose        *refpath.VehiclePose
	Left, Right *refpath.LaneMarkerFit
	Routing     orb.LineString
}

type jsonLine struct {
	Speed   *float64               `json:"speed"`
	Units   string                 `json:"units"`
	X       *float64               `json:"x"`
	Y       *float64               `json:"y"`
	Heading *float64               `json:"heading"`
	Left    *refpath.LaneMarkerFit `json:"left"`
	Right   *refpath.LaneMarkerFit `json:"right"`
	Routing []float64              `json:"routing"`
}

// ParseLine decodes a gateway line. Non-finite values are rejected.
func ParseLine(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, fmt.Errorf("%w: empty", ErrMalformedLine)
	}

	if !strings.HasPrefix(line, "{") {
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		if !isFinite(v) {
			return Sample{}, fmt.Errorf("%w: non-finite speed %q", ErrMalformedLine, line)
		}
		return Sample{SpeedMPS: &v}, nil
	}

	var jl jsonLine
	if err := json.Unmarshal([]byte(line), &jl); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	var s Sample
	if jl.Speed != nil {
		mps, err := units.ToMPS(*jl.Speed, jl.Units)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		if !isFinite(mps) {
			return Sample{}, fmt.Errorf("%w: non-finite speed", ErrMalformedLine)
		}
		s.SpeedMPS = &mps
	}

	switch n := countSet(jl.X, jl.Y, jl.Heading); n {
	case 0:
	case 3:
		if !isFinite(*jl.X) || !isFinite(*jl.Y) || !isFinite(*jl.Heading) {
			return Sample{}, fmt.Errorf("%w: non-finite pose", ErrMalformedLine)
		}
		s.Pose = &refpath.VehiclePose{X: *jl.X, Y: *jl.Y, Heading: *jl.Heading}
	default:
		return Sample{}, fmt.Errorf("%w: pose needs x, y and heading, got %d of them", ErrMalformedLine, n)
	}

	switch {
	case jl.Left == nil && jl.Right == nil:
	case jl.Left == nil || jl.Right == nil:
		return Sample{}, fmt.Errorf("%w: lane markers need both left and right", ErrMalformedLine)
	default:
		if !fitOK(jl.Left) || !fitOK(jl.Right) {
			return Sample{}, fmt.Errorf("%w: lane marker has a non-finite coefficient or negative quality", ErrMalformedLine)
		}
		s.Left, s.Right = jl.Left, jl.Right
	}

	if len(jl.Routing) > 0 {
		s.Routing = make(orb.LineString, len(jl.Routing))
		for i, y := range jl.Routing {
			if !isFinite(y) {
				return Sample{}, fmt.Errorf("%w: non-finite routing sample at station %d", ErrMalformedLine, i)
			}
			s.Routing[i] = orb.Point{float64(i), y}
		}
	}

	if s.SpeedMPS == nil && s.Pose == nil && s.Left == nil && s.Routing == nil {
		return Sample{}, fmt.Errorf("%w: nothing usable", ErrMalformedLine)
	}
	return s, nil
}

func fitOK(f *refpath.LaneMarkerFit) bool {
	for _, c := range f.Coef {
		if !isFinite(c) {
			return false
		}
	}
	return isFinite(f.Quality) && f.Quality >= 0
}

func countSet(vs ...*float64) int {
	n := 0
	for _, v := range vs {
		if v != nil {
			n++
		}
	}
	return n
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MaxAges bounds how old each kind of sample may be before it is reported
// as absent.
type MaxAges struct {
	Speed      time.Duration
	Pose       time.Duration
	Perception time.Duration
}

// MaxAgesFromTuning reads the freshness limits of cfg.
func MaxAgesFromTuning(cfg *config.TuningConfig) MaxAges {
	return MaxAges{
		Speed:      cfg.GetSpeedMaxAge(),
		Pose:       cfg.GetPoseMaxAge(),
		Perception: cfg.GetPerceptionMaxAge(),
	}
}

// stamped is a value with the time it was received.
type stamped[T any] struct {
	v   T
	at  time.Time
	set bool
}

func (s *stamped[T]) store(v T, at time.Time) { s.v, s.at, s.set = v, at, true }

func (s *stamped[T]) fresh(clock timeutil.Clock, maxAge time.Duration) (T, bool) {
	if !s.set || clock.Since(s.at) > maxAge {
		var zero T
		return zero, false
	}
	return s.v, true
}

type lanePair struct {
	left, right refpath.LaneMarkerFit
}

// Feed keeps the most recent gateway samples. It implements the planner's
// SpeedSource, LocalizationSource, PerceptionSource and RoutingSource.
type Feed struct {
	clock  timeutil.Clock
	maxAge MaxAges

	mu      sync.Mutex
	speed   stamped[float64]
	pose    stamped[refpath.VehiclePose]
	lanes   stamped[lanePair]
	routing stamped[orb.LineString]
	dropped int
}

// NewFeed returns an empty Feed. A nil clock means timeutil.RealClock.
func NewFeed(clock timeutil.Clock, maxAge MaxAges) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Feed{clock: clock, maxAge: maxAge}
}

// Run subscribes to m and applies each line until ctx is done or the mux
// closes the subscription.
func (f *Feed) Run(ctx context.Context, m serialmux.SerialMuxInterface) error {
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return nil
			}
			f.HandleLine(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleLine applies one gateway line. Malformed lines are dropped.
func (f *Feed) HandleLine(line string) {
	s, err := ParseLine(line)
	if err != nil {
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		monitoring.Logf("chassis: dropping line %q: %v", line, err)
		return
	}

	now := f.clock.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.SpeedMPS != nil {
		f.speed.store(*s.SpeedMPS, now)
	}
	if s.Pose != nil {
		f.pose.store(*s.Pose, now)
	}
	if s.Left != nil {
		f.lanes.store(lanePair{left: *s.Left, right: *s.Right}, now)
	}
	if s.Routing != nil {
		f.routing.store(s.Routing, now)
	}
}

// Speed returns the latest speed, or no speed when none is fresh.
func (f *Feed) Speed() refpath.Speed {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.speed.fresh(f.clock, f.maxAge.Speed)
	if !ok {
		return refpath.NoSpeed()
	}
	return refpath.SpeedMPS(v)
}

// Pose returns the latest pose if it is fresh.
func (f *Feed) Pose() (refpath.VehiclePose, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose.fresh(f.clock, f.maxAge.Pose)
}

// LaneMarkers returns copies of the latest fits if they are fresh.
func (f *Feed) LaneMarkers() (*refpath.LaneMarkerFit, *refpath.LaneMarkerFit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lp, ok := f.lanes.fresh(f.clock, f.maxAge.Perception)
	if !ok {
		return nil, nil, false
	}
	return &lp.left, &lp.right, true
}

// LocalSegment returns the latest routing samples, or nil when they are
// stale. The gateway already expresses them in the vehicle frame, so pose
// is not needed here.
func (f *Feed) LocalSegment(refpath.VehiclePose) orb.LineString {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls, _ := f.routing.fresh(f.clock, f.maxAge.Perception)
	return ls
}

// DroppedLines returns how many lines failed to parse.
func (f *Feed) DroppedLines() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
