// Package units provides shared constants and conversions for speed units
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

const (
	mpsToMPH  = 2.2369362920544
	mpsToKMPH = 3.6
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units return the input unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mpsToMPH
	case KMPH, KPH:
		return speedMPS * mpsToKMPH
	default:
		return speedMPS
	}
}

// ToMPS converts a speed in the given units to meters per second. An empty
// unit means the value is already in m/s.
func ToMPS(speed float64, fromUnits string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(fromUnits)) {
	case "", MPS:
		return speed, nil
	case MPH:
		return speed / mpsToMPH, nil
	case KMPH, KPH:
		return speed / mpsToKMPH, nil
	default:
		return 0, fmt.Errorf("unknown speed unit %q (valid: %s)", fromUnits, GetValidUnitsString())
	}
}
