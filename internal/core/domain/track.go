package domain

import (
	"math"
	"time"
)

type TrackID int64

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) DistanceTo(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

type TrackSample struct {
	Position  Point     `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}
