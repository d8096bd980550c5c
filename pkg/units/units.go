// Package units converts speeds between the units reported by roadwatch.
package units

import "strings"

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

var ValidUnits = []string{MPS, MPH, KMPH, KPH}

func IsValid(unit string) bool {
	for _, valid := range ValidUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts meters per second to the target unit. Unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}
