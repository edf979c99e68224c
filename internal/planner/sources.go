package planner

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/banshee-data/refpath/internal/refpath"
)

// PerceptionSource supplies the latest left and right lane-marker fits.
// ok is false when perception has nothing for this cycle.
type PerceptionSource interface {
	LaneMarkers() (left, right *refpath.LaneMarkerFit, ok bool)
}

// RoutingSource supplies the routing path near pose, sampled at unit
// stations in the vehicle frame. Y() of each point is the lateral offset.
type RoutingSource interface {
	LocalSegment(pose refpath.VehiclePose) orb.LineString
}

// LocalizationSource supplies the current vehicle pose.
type LocalizationSource interface {
	Pose() (refpath.VehiclePose, bool)
}

// SpeedSource supplies the current vehicle speed, which may be absent.
type SpeedSource interface {
	Speed() refpath.Speed
}

// PathSink receives every published Output.
type PathSink interface {
	Publish(ctx context.Context, out Output) error
}

// SinkFunc adapts a function to PathSink.
type SinkFunc func(ctx context.Context, out Output) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, out Output) error { return f(ctx, out) }

// Sources groups the collaborators of a Planner. Perception is required.
type Sources struct {
	Perception   PerceptionSource
	Routing      RoutingSource
	Localization LocalizationSource
	Speed        SpeedSource
}

// StaticPerception always reports the same pair of fits. Both must be set
// for it to report ok.
type StaticPerception struct {
	Left, Right *refpath.LaneMarkerFit
}

func (s StaticPerception) LaneMarkers() (*refpath.LaneMarkerFit, *refpath.LaneMarkerFit, bool) {
	return s.Left, s.Right, s.Left != nil && s.Right != nil
}

// StaticRouting returns Path for every pose.
type StaticRouting struct {
	Path orb.LineString
}

func (s StaticRouting) LocalSegment(refpath.VehiclePose) orb.LineString { return s.Path }

// StraightRouting returns n routing samples at a constant lateral offset.
func StraightRouting(n int, offset float64) StaticRouting {
	ls := make(orb.LineString, n)
	for i := range n {
		ls[i] = orb.Point{float64(i), offset}
	}
	return StaticRouting{Path: ls}
}

// StaticLocalization always reports the pose At.
type StaticLocalization struct {
	At refpath.VehiclePose
}

func (s StaticLocalization) Pose() (refpath.VehiclePose, bool) { return s.At, true }

// StaticSpeed always reports Value.
type StaticSpeed struct {
	Value refpath.Speed
}

func (s StaticSpeed) Speed() refpath.Speed { return s.Value }
