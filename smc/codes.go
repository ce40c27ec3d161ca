// Package smc implements the chip-management firmware domain: the host-facing
// command surface, the outbound cross-domain notification state, and the glue
// binding both to the interconnect and clock subsystems.
package smc

// Host command codes. The low byte of the first request word selects the
// handler.
const (
	CodeNop                    = 0x11
	CodeSetVoltage             = 0x12
	CodeGetVoltage             = 0x13
	CodeDebugNocTranslation    = 0x15
	CodePowerSetting           = 0x21
	CodeFreqCurveFromVoltage   = 0x30
	CodeAiclkSweepStart        = 0x31
	CodeAiclkSweepStop         = 0x32
	CodeForceAiclk             = 0x33
	CodeGetAiclk               = 0x34
	CodeAiclkGoBusy            = 0x52
	CodeAiclkGoLongIdle        = 0x54
	CodeTriggerReset           = 0x56
	CodeTest                   = 0x90
	CodeVoltageCurveFromFreq   = 0xA6
	CodeForceFanSpeed          = 0xAC
	CodeUpdateAutoResetTimeout = 0xBC
	CodePingDM                 = 0xC0
	CodeSetWdtTimeout          = 0xC1
)

// statusEInval is the status byte reported for a malformed parameter. It is
// the two's-complement byte of -EINVAL, kept for host compatibility.
const statusEInval uint8 = 0x100 - 22

// statusENotSup is reported when a parameter is understood but not allowed.
const statusENotSup uint8 = 0x100 - 134

// statusENoDev is reported when the backing device is absent.
const statusENoDev uint8 = 0x100 - 19
