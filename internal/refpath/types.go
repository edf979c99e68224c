package refpath

import (
	"encoding/json"
	"math"
)

// LaneMarkerFit is a cubic fit of one lane boundary in the vehicle frame.
// Coef[i] multiplies x^i; Coef[0] is the lateral offset at the ego position.
type LaneMarkerFit struct {
	Coef    [4]float64 `json:"coef"`
	Quality float64    `json:"quality"` // >= 0, 0 means unusable
}

// VehiclePose is the vehicle position and heading in the local frame.
type VehiclePose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"` // radians
}

// Speed is an optional speed sample in metres per second.
type Speed struct {
	mps   float64
	valid bool
}

// SpeedMPS returns a present speed sample.
func SpeedMPS(v float64) Speed { return Speed{mps: v, valid: true} }

// NoSpeed returns an absent speed sample.
func NoSpeed() Speed { return Speed{} }

// MPS returns the speed and whether it is present.
func (s Speed) MPS() (float64, bool) { return s.mps, s.valid }

// Valid reports whether the sample carries a speed.
func (s Speed) Valid() bool { return s.valid }

// MarshalJSON encodes an absent speed as null.
func (s Speed) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.mps)
}

// UnmarshalJSON decodes null as an absent speed.
func (s *Speed) UnmarshalJSON(b []byte) error {
	var v *float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*s = NoSpeed()
		return nil
	}
	*s = SpeedMPS(*v)
	return nil
}

// PathPoint is one sample of a reference path.
type PathPoint struct {
	Station       int     `json:"station"`
	LateralOffset float64 `json:"lateral_offset"`
}

// ReferencePath is the output of one estimator call.
type ReferencePath struct {
	Points []PathPoint `json:"points"`
	Length int         `json:"length"`
}

// Offsets returns the lateral offsets in station order.
func (p ReferencePath) Offsets() []float64 {
	out := make([]float64, len(p.Points))
	for i, pt := range p.Points {
		out[i] = pt.LateralOffset
	}
	return out
}

// Cubic holds the four coefficients of a third-order polynomial.
type Cubic [4]float64

// Eval returns c0 + c1*x + c2*x^2 + c3*x^3.
func (c Cubic) Eval(x float64) float64 {
	return c[0] + x*(c[1]+x*(c[2]+x*c[3]))
}

// TargetOffset is the raw lateral offset implied by the two lane markers,
// before rate limiting.
func TargetOffset(left, right *LaneMarkerFit) (float64, error) {
	if err := checkFits(left, right); err != nil {
		return 0, err
	}
	return (right.Coef[0] + left.Coef[0]) / -2.0, nil
}

// BlendCoefficients returns the quality-weighted lane-marker cubic anchored at
// -initOffset. With zero combined quality only the constant term remains.
func BlendCoefficients(left, right *LaneMarkerFit, initOffset float64) (Cubic, error) {
	if err := checkFits(left, right); err != nil {
		return Cubic{}, err
	}
	c := Cubic{-initOffset}
	q := left.Quality + right.Quality
	if q > 0 {
		for i := 1; i < 4; i++ {
			l, r := left.Coef[i], right.Coef[i]
			if l == r {
				// the weighted sum can be off by an ulp
				c[i] = l
				continue
			}
			c[i] = (r*right.Quality + l*left.Quality) / q
		}
	}
	return c, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
