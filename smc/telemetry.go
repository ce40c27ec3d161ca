package smc

import "sync"

// Tag identifies one telemetry value in the host-visible table.
type Tag uint8

const (
	TagBoardPowerLimit Tag = 14
	TagInputPower      Tag = 15
	TagThermTripCount  Tag = 16
	TagAiclk           Tag = 24
	TagDMBLFWVersion   Tag = 25
	TagDMAppFWVersion  Tag = 26
	TagFanSpeed        Tag = 40
	TagFanRPM          Tag = 41
	TagTimerHeartbeat  Tag = 42
	TagNocTranslation  Tag = 46
)

// Telemetry is the tag-indexed value table exposed to the host. Writers are
// the subsystem update paths; readers are the transport handlers, so access
// is locked.
type Telemetry struct {
	mu     sync.Mutex
	values map[Tag]uint32

	heartbeat uint32
}

// NewTelemetry creates an empty table.
func NewTelemetry() *Telemetry {
	return &Telemetry{values: make(map[Tag]uint32)}
}

// Set records a value and marks the tag valid.
func (t *Telemetry) Set(tag Tag, value uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.values[tag] = value
}

// Get returns a tag's value and whether the tag has ever been written.
func (t *Telemetry) Get(tag Tag) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.values[tag]

	return v, ok
}

// Snapshot returns a copy of every tag that has been written.
func (t *Telemetry) Snapshot() map[Tag]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[Tag]uint32, len(t.values))
	for tag, v := range t.values {
		snapshot[tag] = v
	}

	return snapshot
}

// IncrementHeartbeat advances the liveness counter the peer domain watches
// and returns the new value.
func (t *Telemetry) IncrementHeartbeat() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.heartbeat++
	t.values[TagTimerHeartbeat] = t.heartbeat

	return t.heartbeat
}
