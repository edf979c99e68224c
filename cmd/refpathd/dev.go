package main

import (
	"encoding/json"
	"math"

	"github.com/banshee-data/refpath/internal/refpath"
)

// devLane is the half-width of the simulated lane in metres.
const devLane = 1.75

// devGatewayLines simulates one lap of a gateway feed: steady 8 m/s, the
// lane centre drifting sinusoidally by up to 0.4 m, and a straight route
// down the middle of the lane.
func devGatewayLines(n int) []string {
	lines := make([]string, 0, n)
	for i := range n {
		phase := 2 * math.Pi * float64(i) / float64(n)
		drift := 0.4 * math.Sin(phase)
		slope := 0.02 * math.Cos(phase)

		routing := make([]float64, 32)
		for s := range routing {
			routing[s] = drift
		}

		line := struct {
			Speed   float64               `json:"speed"`
			Units   string                `json:"units"`
			X       float64               `json:"x"`
			Y       float64               `json:"y"`
			Heading float64               `json:"heading"`
			Left    refpath.LaneMarkerFit `json:"left"`
			Right   refpath.LaneMarkerFit `json:"right"`
			Routing []float64             `json:"routing"`
		}{
			Speed:   8,
			Units:   "mps",
			X:       float64(i) * 0.8,
			Heading: slope,
			Left:    refpath.LaneMarkerFit{Coef: [4]float64{devLane - drift, slope}, Quality: 0.8},
			Right:   refpath.LaneMarkerFit{Coef: [4]float64{-devLane - drift, slope}, Quality: 0.6},
			Routing: routing,
		}
		b, err := json.Marshal(line)
		if err != nil {
			// only plain numbers are marshalled
			panic(err)
		}
		lines = append(lines, string(b))
	}
	return lines
}
