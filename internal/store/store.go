// Package store keeps the most recent packet for every (sensor, variant)
// stream together with the inter-packet latency of that stream.
//
// A Store has one writer (the frame reader) and any number of readers.
// Entries are immutable values replaced whole under a write lock, so a reader
// never observes a half-written entry.
package store

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/timeutil"
)

// NoLatency is returned by Latency until two packets share a key.
const NoLatency int64 = -1

// Key identifies one telemetry stream.
type Key struct {
	SensorID int
	Variant  packet.Variant
}

// Entry is the stored state of one stream.
type Entry struct {
	Key        Key
	Packet     *packet.Packet
	Latency    int64
	HasLatency bool
	ReceivedAt time.Time
	Count      uint64
}

// Store is a concurrent last-value cache of packets.
type Store struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	entries map[Key]Entry
}

// New returns an empty Store. A nil clock selects the system clock.
func New(clock timeutil.Clock) *Store {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{
		clock:   clock,
		entries: make(map[Key]Entry),
	}
}

// KeyOf returns the key p is stored under.
func KeyOf(p *packet.Packet) Key {
	return Key{SensorID: p.SensorID(), Variant: p.Variant()}
}

// Publish replaces the entry for p's key. When the key already had a packet
// the difference between the two device timestamps is recorded as latency,
// unclamped, so counter wraps and reordering stay visible.
func (s *Store) Publish(p *packet.Packet) {
	if p == nil {
		return
	}
	key := KeyOf(p)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[key]
	next := Entry{
		Key:        key,
		Packet:     p,
		Latency:    NoLatency,
		ReceivedAt: now,
		Count:      prev.Count + 1,
	}
	if ok {
		next.Latency = p.Timestamp() - prev.Packet.Timestamp()
		next.HasLatency = true
	}
	s.entries[key] = next
}

// Get returns the last packet for the stream, if any.
func (s *Store) Get(sensorID int, variant packet.Variant) (*packet.Packet, bool) {
	e, ok := s.Entry(sensorID, variant)
	if !ok {
		return nil, false
	}
	return e.Packet, true
}

// Latency returns the last inter-packet latency for the stream in device
// clock units, or NoLatency.
func (s *Store) Latency(sensorID int, variant packet.Variant) int64 {
	e, ok := s.Entry(sensorID, variant)
	if !ok || !e.HasLatency {
		return NoLatency
	}
	return e.Latency
}

// Entry returns a copy of the stream's entry.
func (s *Store) Entry(sensorID int, variant packet.Variant) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[Key{SensorID: sensorID, Variant: variant}]
	return e, ok
}

// Snapshot returns all entries ordered by sensor id, then variant.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Key.SensorID, b.Key.SensorID); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.Variant, b.Key.Variant)
	})
	return out
}

// Len returns the number of streams seen.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset forgets every stream.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}
