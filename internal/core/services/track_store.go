package services

import (
	"sort"
	"sync"
	"time"

	"roadwatch/internal/core/domain"
)

const DefaultHistorySize = 10

// trackRing is a fixed-capacity ring of samples ordered by timestamp.
type trackRing struct {
	samples []domain.TrackSample
	head    int
	count   int
}

func newTrackRing(capacity int) *trackRing {
	return &trackRing{samples: make([]domain.TrackSample, capacity)}
}

func (r *trackRing) last() domain.TrackSample {
	idx := (r.head + r.count - 1) % len(r.samples)
	return r.samples[idx]
}

func (r *trackRing) push(s domain.TrackSample) {
	if r.count < len(r.samples) {
		r.samples[(r.head+r.count)%len(r.samples)] = s
		r.count++
		return
	}
	r.samples[r.head] = s
	r.head = (r.head + 1) % len(r.samples)
}

func (r *trackRing) window() []domain.TrackSample {
	out := make([]domain.TrackSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.samples[(r.head+i)%len(r.samples)]
	}
	return out
}

// TrackHistoryStore keeps the last N positions of every track. Writes come
// from the frame loop; the HTTP API reads concurrently.
type TrackHistoryStore struct {
	capacity int

	mu     sync.RWMutex
	tracks map[domain.TrackID]*trackRing
}

func NewTrackHistoryStore(capacity int) *TrackHistoryStore {
	if capacity < 2 {
		capacity = DefaultHistorySize
	}
	return &TrackHistoryStore{
		capacity: capacity,
		tracks:   make(map[domain.TrackID]*trackRing),
	}
}

// Record appends a sample, evicting the oldest once the track is full. A
// timestamp not after the track's last one is rejected and the history is
// left untouched.
func (s *TrackHistoryStore) Record(id domain.TrackID, position domain.Point, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.tracks[id]
	if !ok {
		ring = newTrackRing(s.capacity)
		s.tracks[id] = ring
	} else if !ts.After(ring.last().Timestamp) {
		return domain.ErrNonMonotonicSample
	}

	ring.push(domain.TrackSample{Position: position, Timestamp: ts})
	return nil
}

// Window returns a copy of the track's samples, oldest first. Unknown ids
// yield nil.
func (s *TrackHistoryStore) Window(id domain.TrackID) []domain.TrackSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.tracks[id]
	if !ok {
		return nil
	}
	return ring.window()
}

// EvictIdle drops every track whose newest sample is older than
// idleThreshold and returns the evicted ids in ascending order.
func (s *TrackHistoryStore) EvictIdle(now time.Time, idleThreshold time.Duration) []domain.TrackID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []domain.TrackID
	for id, ring := range s.tracks {
		if now.Sub(ring.last().Timestamp) > idleThreshold {
			delete(s.tracks, id)
			evicted = append(evicted, id)
		}
	}

	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

func (s *TrackHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// TrackIDs returns the live track ids in ascending order.
func (s *TrackHistoryStore) TrackIDs() []domain.TrackID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.TrackID, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
