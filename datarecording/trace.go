package datarecording

import "time"

// A TelemetrySample is one tagged telemetry value at a heartbeat.
type TelemetrySample struct {
	Heartbeat uint32
	Tag       uint8
	Value     uint32
}

// A CommandRecord is one dispatched host command and its outcome.
type CommandRecord struct {
	Heartbeat  uint32
	Channel    int
	Code       uint8
	Status     uint8
	DurationNS int64
}

const (
	telemetryTable = "telemetry"
	commandTable   = "commands"
)

// A Trace records firmware activity into a DataRecorder: telemetry snapshots
// keyed by heartbeat and per-command dispatch records.
type Trace struct {
	recorder DataRecorder
}

// NewTrace creates a Trace and its tables on the recorder.
func NewTrace(recorder DataRecorder) *Trace {
	recorder.CreateTable(telemetryTable, TelemetrySample{})
	recorder.CreateTable(commandTable, CommandRecord{})

	return &Trace{recorder: recorder}
}

// RecordTelemetry stores one batch of tag values under a heartbeat.
func (t *Trace) RecordTelemetry(heartbeat uint32, values map[uint8]uint32) {
	for tag, v := range values {
		t.recorder.InsertData(telemetryTable, TelemetrySample{
			Heartbeat: heartbeat,
			Tag:       tag,
			Value:     v,
		})
	}
}

// RecordCommand stores one dispatched command.
func (t *Trace) RecordCommand(
	heartbeat uint32,
	channel int,
	code, status uint8,
	duration time.Duration,
) {
	t.recorder.InsertData(commandTable, CommandRecord{
		Heartbeat:  heartbeat,
		Channel:    channel,
		Code:       code,
		Status:     status,
		DurationNS: duration.Nanoseconds(),
	})
}
