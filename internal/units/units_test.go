package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "knots", false},
		{"empty unit", "", false},
		{"uppercase MPS", "MPS", false}, // Case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "mps, mph, kmph, kph" {
		t.Errorf("GetValidUnitsString() = %s", got)
	}
}

func TestToMPS(t *testing.T) {
	tests := []struct {
		name     string
		speed    float64
		unit     string
		expected float64
		wantErr  bool
	}{
		{"implicit mps", 12.5, "", 12.5, false},
		{"mps", 12.5, MPS, 12.5, false},
		{"36 kph", 36, KPH, 10, false},
		{"3.6 kmph", 3.6, KMPH, 1, false},
		{"mph", 22.369362920544, MPH, 10, false},
		{"mixed case", 36, " KPH ", 10, false},
		{"unknown unit", 5, "knots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMPS(tt.speed, tt.unit)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ToMPS(%f, %q) expected error", tt.speed, tt.unit)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToMPS(%f, %q) unexpected error: %v", tt.speed, tt.unit, err)
			}
			if math.Abs(got-tt.expected) > 1e-10 {
				t.Errorf("ToMPS(%f, %q) = %f, want %f", tt.speed, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestRoundTripConversions(t *testing.T) {
	originalMPS := 15.5
	for _, unit := range ValidUnits {
		back, err := ToMPS(ConvertSpeed(originalMPS, unit), unit)
		if err != nil {
			t.Fatalf("ToMPS(%s): %v", unit, err)
		}
		if math.Abs(back-originalMPS) > 1e-10 {
			t.Errorf("%s round trip = %f, want %f", unit, back, originalMPS)
		}
	}
}
