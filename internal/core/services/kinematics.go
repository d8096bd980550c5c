package services

import (
	"math"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/units"
)

const sectorWidth = math.Pi / 4

// KinematicEstimator turns a track window into speed and heading. Positions
// are in image units; MetersPerUnit calibrates them to meters.
type KinematicEstimator struct {
	MetersPerUnit float64
}

func NewKinematicEstimator(metersPerUnit float64) *KinematicEstimator {
	if metersPerUnit <= 0 {
		metersPerUnit = 1
	}
	return &KinematicEstimator{MetersPerUnit: metersPerUnit}
}

// Estimate computes speed from the full path and heading from the first to
// the last sample. Windows with fewer than two samples are undefined.
func (e *KinematicEstimator) Estimate(window []domain.TrackSample) domain.KinematicEstimate {
	n := len(window)
	if n < 2 {
		return domain.KinematicEstimate{
			Direction:   domain.DirectionUnknown,
			Reliability: 0,
			Samples:     n,
		}
	}

	var distance float64
	var elapsed float64
	for i := 1; i < n; i++ {
		distance += window[i-1].Position.DistanceTo(window[i].Position)
		elapsed += window[i].Timestamp.Sub(window[i-1].Timestamp).Seconds()
	}

	estimate := domain.KinematicEstimate{
		Reliability: Reliability(n),
		Samples:     n,
	}

	if elapsed > 0 {
		mps := distance * e.MetersPerUnit / elapsed
		kph := units.ConvertSpeed(mps, units.KPH)
		estimate.SpeedKPH = &kph
	}

	first, last := window[0].Position, window[n-1].Position
	heading := math.Atan2(last.Y-first.Y, last.X-first.X)
	if heading == -math.Pi {
		heading = math.Pi
	}
	estimate.Heading = &heading
	estimate.Direction = DirectionForAngle(heading)

	return estimate
}

// Reliability grades an estimate by how many samples back it.
func Reliability(samples int) float64 {
	switch {
	case samples < 2:
		return 0
	case samples < 5:
		return 0.5
	case samples < 10:
		return 0.7
	default:
		return 1.0
	}
}

// DirectionForAngle maps a screen-space angle (y grows downwards) to one of
// eight compass labels. Each sector is half-open around its centre, so a
// boundary falls to the sector with the larger angle: π/8 is BottomRight, not
// Right as a first-match table of closed ranges would give. Left covers the
// ±π seam and the mapping is total.
func DirectionForAngle(angle float64) domain.Direction {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return domain.DirectionUnknown
	}

	a := math.Mod(angle, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}

	idx := int(math.Floor((a+sectorWidth/2)/sectorWidth)) % len(domain.CompassSectors)
	return domain.CompassSectors[idx]
}
