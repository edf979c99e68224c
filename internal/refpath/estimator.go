package refpath

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/refpath/internal/config"
)

var (
	// ErrInvalidInput is returned when a lane-marker fit is missing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidHorizon is returned when a path is requested with horizon <= 0.
	ErrInvalidHorizon = errors.New("horizon must be positive")
	// ErrInvalidConfig is returned by NewEstimator for unusable limits.
	ErrInvalidConfig = errors.New("invalid estimator config")
)

// EstimatorState is the lifecycle state of an Estimator.
type EstimatorState string

const (
	StateUninitialized EstimatorState = "uninitialized" // no offset published yet
	StateTracking      EstimatorState = "tracking"      // previous offset set
)

// Config holds the estimator limits. They are fixed at construction.
type Config struct {
	// MinimumPathLength is the shortest horizon, in stations, ever produced.
	MinimumPathLength int
	// MaxPathLength caps the horizon however fast the vehicle goes.
	MaxPathLength int
	// MaxLatChange is the largest per-call change of the published initial
	// lateral offset.
	MaxLatChange float64
}

// DefaultConfig returns the built-in limits (5 stations, 0.1 per call).
func DefaultConfig() Config {
	return Config{
		MinimumPathLength: config.DefaultMinPathLength,
		MaxPathLength:     config.DefaultMaxPathLength,
		MaxLatChange:      config.DefaultMaxLatChange,
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinimumPathLength: cfg.GetMinPathLength(),
		MaxPathLength:     cfg.GetMaxPathLength(),
		MaxLatChange:      cfg.GetMaxLatChange(),
	}
}

// Validate checks that the limits can produce a path.
func (c Config) Validate() error {
	if c.MinimumPathLength < 1 {
		return fmt.Errorf("%w: minimum path length must be >= 1, got %d", ErrInvalidConfig, c.MinimumPathLength)
	}
	if c.MaxPathLength < c.MinimumPathLength {
		return fmt.Errorf("%w: max path length %d is below the minimum %d", ErrInvalidConfig, c.MaxPathLength, c.MinimumPathLength)
	}
	if !finite(c.MaxLatChange) || c.MaxLatChange < 0 {
		return fmt.Errorf("%w: max lateral change must be a non-negative number, got %v", ErrInvalidConfig, c.MaxLatChange)
	}
	return nil
}

// Estimator produces reference paths and carries the previous lateral offset
// between calls.
type Estimator struct {
	cfg Config

	// previous offset published; meaningful only when hasPrevious is true
	previous    float64
	hasPrevious bool
}

// NewEstimator returns an Estimator in the uninitialized state.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Config returns the limits the estimator was built with.
func (e *Estimator) Config() Config { return e.cfg }

// State reports whether an offset has been published yet.
func (e *Estimator) State() EstimatorState {
	if e.hasPrevious {
		return StateTracking
	}
	return StateUninitialized
}

// PreviousOffset returns the last published initial offset, if any.
func (e *Estimator) PreviousOffset() (float64, bool) {
	return e.previous, e.hasPrevious
}

// ComputeHorizon returns the number of stations to generate: about two
// seconds of travel, clamped to [MinimumPathLength, MaxPathLength]. A
// non-finite speed counts as absent.
func (e *Estimator) ComputeHorizon(speed Speed) int {
	horizon := e.cfg.MinimumPathLength
	v, ok := speed.MPS()
	if !ok || !finite(v) {
		return horizon
	}
	// compare as floats so huge speeds never reach the int conversion
	stations := math.Ceil(v * 2)
	switch {
	case stations >= float64(e.cfg.MaxPathLength):
		return e.cfg.MaxPathLength
	case stations > float64(horizon):
		return int(stations)
	}
	return horizon
}

// RateLimitOffset returns the initial offset to publish for the given target
// and records it as the previous offset. The first call always returns 0.
func (e *Estimator) RateLimitOffset(target float64) float64 {
	out := 0.0
	if e.hasPrevious {
		switch {
		case math.Abs(target-e.previous) < e.cfg.MaxLatChange:
			out = target
		case target > e.previous:
			out = e.previous + e.cfg.MaxLatChange
		default:
			out = e.previous - e.cfg.MaxLatChange
		}
	}
	e.previous = out
	e.hasPrevious = true
	return out
}

// BuildPathFromLaneMarkers evaluates the quality-weighted lane-marker cubic
// at stations [0, horizon). It does not touch estimator state.
func (e *Estimator) BuildPathFromLaneMarkers(left, right *LaneMarkerFit, horizon int, initOffset float64) (ReferencePath, error) {
	if horizon <= 0 {
		return ReferencePath{}, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
	}
	c, err := BlendCoefficients(left, right, initOffset)
	if err != nil {
		return ReferencePath{}, err
	}
	points := make([]PathPoint, horizon)
	for x := range horizon {
		points[x] = PathPoint{Station: x, LateralOffset: -1 * c.Eval(float64(x))}
	}
	return ReferencePath{Points: points, Length: horizon}, nil
}

// BuildPathWithRoutingBlend mixes the lane-marker path with a routing path
// shifted onto initOffset. Perception is weighted by the mean lane-marker
// quality and routing by 1. Routing shorter than the horizon is ignored and
// the lane-marker path is returned as is.
func (e *Estimator) BuildPathWithRoutingBlend(left, right *LaneMarkerFit, routing orb.LineString, horizon int, initOffset float64) (ReferencePath, error) {
	lmPath, err := e.BuildPathFromLaneMarkers(left, right, horizon, initOffset)
	if err != nil {
		return ReferencePath{}, err
	}
	if len(routing) < horizon {
		return lmPath, nil
	}

	quality := (left.Quality + right.Quality) / 2.0
	shift := routing[0].Y() - initOffset
	points := make([]PathPoint, horizon)
	for i := range horizon {
		y := (lmPath.Points[i].LateralOffset*quality + routing[i].Y() - shift) / (1 + quality)
		points[i] = PathPoint{Station: i, LateralOffset: y}
	}
	return ReferencePath{Points: points, Length: horizon}, nil
}

// PathFromLaneMarkers runs one full estimator call on lane markers only:
// horizon from speed, rate-limited initial offset, lane-marker path.
func (e *Estimator) PathFromLaneMarkers(left, right *LaneMarkerFit, speed Speed) (ReferencePath, error) {
	initOffset, horizon, err := e.advance(left, right, speed)
	if err != nil {
		return ReferencePath{}, err
	}
	return e.BuildPathFromLaneMarkers(left, right, horizon, initOffset)
}

// PathWithRouting runs one full estimator call blending lane markers with the
// local routing segment.
func (e *Estimator) PathWithRouting(left, right *LaneMarkerFit, routing orb.LineString, speed Speed) (ReferencePath, error) {
	initOffset, horizon, err := e.advance(left, right, speed)
	if err != nil {
		return ReferencePath{}, err
	}
	return e.BuildPathWithRoutingBlend(left, right, routing, horizon, initOffset)
}

// advance validates the fits before the single state mutation of a call.
func (e *Estimator) advance(left, right *LaneMarkerFit, speed Speed) (float64, int, error) {
	target, err := TargetOffset(left, right)
	if err != nil {
		return 0, 0, err
	}
	horizon := e.ComputeHorizon(speed)
	if horizon <= 0 {
		return 0, 0, fmt.Errorf("%w: computed %d", ErrInvalidHorizon, horizon)
	}
	return e.RateLimitOffset(target), horizon, nil
}

func checkFits(left, right *LaneMarkerFit) error {
	switch {
	case left == nil && right == nil:
		return fmt.Errorf("%w: left and right lane markers missing", ErrInvalidInput)
	case left == nil:
		return fmt.Errorf("%w: left lane marker missing", ErrInvalidInput)
	case right == nil:
		return fmt.Errorf("%w: right lane marker missing", ErrInvalidInput)
	}
	return nil
}
