package smc

import (
	"log"
	"time"

	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/harvesting"
	"github.com/sarchlab/bhmc/msgqueue"
)

func (c *Controller) registerHandlers() {
	d := c.dispatcher

	d.Register(CodeNop, func(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
		return 0
	})
	d.Register(CodeTest, c.handleTest)
	d.Register(CodeTriggerReset, c.handleTriggerReset)
	d.Register(CodePingDM, c.handlePingDM)
	d.Register(CodeSetWdtTimeout, c.handleSetWdtTimeout)
	d.Register(CodeForceFanSpeed, c.handleForceFanSpeed)
	d.Register(CodeUpdateAutoResetTimeout, c.handleUpdateAutoResetTimeout)
	d.Register(CodeDebugNocTranslation, c.handleDebugNocTranslation)
	d.Register(CodePowerSetting, c.handlePowerSetting)
	d.Register(CodeSetVoltage, c.handleSetVoltage)
	d.Register(CodeGetVoltage, c.handleGetVoltage)
	d.Register(CodeAiclkGoBusy, c.handleAiclkBusy)
	d.Register(CodeAiclkGoLongIdle, c.handleAiclkBusy)
	d.Register(CodeForceAiclk, c.handleForceAiclk)
	d.Register(CodeGetAiclk, c.handleGetAiclk)
	d.Register(CodeAiclkSweepStart, c.handleAiclkSweep)
	d.Register(CodeAiclkSweepStop, c.handleAiclkSweep)
	d.Register(CodeVoltageCurveFromFreq, c.handleVoltageCurveFromFreq)
	d.Register(CodeFreqCurveFromVoltage, c.handleFreqCurveFromVoltage)
}

func (c *Controller) handleTest(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	rsp.Data[1] = req.Data[1] + 1
	return 0
}

// handleTriggerReset validates the requested reset level and issues it after
// a short delay, so the response reaches the host before the reset lands. No
// response ever comes back from the peer, so validation happens here.
func (c *Controller) handleTriggerReset(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	level := cm2dm.ResetLevel(req.Data[1])

	switch level {
	case cm2dm.ResetLevelAsic, cm2dm.ResetLevelDmc:
		time.AfterFunc(c.resetDelay, func() {
			c.IssueChipReset(level)
		})
		return 0
	default:
		// Never zero: zero is the ASIC level handled above.
		return uint8(req.Data[1])
	}
}

func (c *Controller) handlePingDM(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	c.pingGate.Reset()
	c.outbox.Post(cm2dm.MsgIDPing, 0)

	start := time.Now()
	alive := c.pingGate.Wait(c.pingTimeout)

	c.mu.Lock()
	c.lastPingDuration = time.Since(start)
	c.mu.Unlock()

	if alive {
		rsp.Data[1] = 1
	}

	return 0
}

func (c *Controller) handleSetWdtTimeout(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.wdt == nil {
		return statusENoDev
	}

	timeoutMS := req.Data[1]

	if timeoutMS == 0 {
		if err := c.wdt.Disable(); err != nil {
			return statusEInval
		}
		return 0
	}

	// Deny a timeout shorter than the feed interval.
	if timeoutMS <= c.wdtFeedInterval {
		return statusENotSup
	}

	if err := c.wdt.InstallTimeout(timeoutMS); err != nil {
		return statusEInval
	}

	return 0
}

func (c *Controller) handleForceFanSpeed(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	c.outbox.Post(cm2dm.MsgIDForcedFanSpeedUpdate, req.Data[1])
	return 0
}

func (c *Controller) handleUpdateAutoResetTimeout(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	c.outbox.Post(cm2dm.MsgIDAutoResetTimeoutUpdate, req.Data[1])
	return 0
}

// handleDebugNocTranslation reprograms coordinate translation with a
// caller-supplied harvesting pattern. Fields are bit-packed in the first two
// request words.
func (c *Controller) handleDebugNocTranslation(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	enable := req.Data[0]&(1<<8) != 0
	pcieInstance := int(req.Data[0] >> 9 & 1)
	pcieOverride := req.Data[0]&(1<<10) != 0
	badTensixCols := uint16(req.Data[0] >> 16)

	badGDDR := uint8(req.Data[1])
	skipEth := uint16(req.Data[1]>>8&0xFF) | uint16(req.Data[1]>>16&0xFF)<<8

	if badGDDR >= harvesting.NumGDDR && badGDDR != harvesting.NoBadGDDR {
		return statusEInval
	}

	if c.nocEngine == nil {
		return statusENoDev
	}

	c.nocEngine.Clear()
	c.nocEngine.ProgramBroadcastExclusion(badTensixCols)

	if enable {
		if !pcieOverride {
			pcieInstance = c.tiles.PCIeInstance()
		}

		c.nocEngine.Init(pcieInstance, badTensixCols, badGDDR, skipEth)
	}

	return 0
}

// Power-setting request layout: Data[1] counts how many flag bits are valid,
// Data[2] carries the flag bits. Bit 0 raises or releases the clock busy
// floor.
func (c *Controller) handlePowerSetting(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	const knownFlags = 1

	flagsValid := req.Data[1]
	flags := req.Data[2]

	if flagsValid >= 1 && c.ppm != nil {
		c.ppm.SetBusy(flags&1 != 0)
		c.dvfsKick()
	}

	if flagsValid > knownFlags {
		log.Printf("smc: power setting with %d flags, only %d known",
			flagsValid, knownFlags)
	}

	return 0
}

func (c *Controller) handleSetVoltage(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.regulator == nil {
		return statusENoDev
	}

	if err := c.regulator.SetVoltage(req.Data[1]); err != nil {
		return statusEInval
	}

	return 0
}

func (c *Controller) handleGetVoltage(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.regulator == nil {
		return statusENoDev
	}

	mv, err := c.regulator.Voltage()
	if err != nil {
		return statusEInval
	}

	rsp.Data[1] = mv

	return 0
}

func (c *Controller) handleAiclkBusy(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.ppm == nil {
		return statusENoDev
	}

	c.ppm.SetBusy(req.Code() == CodeAiclkGoBusy)
	c.dvfsKick()

	return 0
}

func (c *Controller) handleForceAiclk(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.ppm == nil {
		return statusENoDev
	}

	if err := c.ppm.Force(req.Data[1]); err != nil {
		return 1
	}

	c.dvfsKick()

	return 0
}

func (c *Controller) handleGetAiclk(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.ppm == nil {
		return statusENoDev
	}

	rate, err := c.ppm.CurrentRate()
	if err != nil {
		return statusEInval
	}

	rsp.Data[1] = rate
	rsp.Data[2] = uint32(c.ppm.Mode())

	return 0
}

func (c *Controller) handleAiclkSweep(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.ppm == nil {
		return statusENoDev
	}

	if req.Code() == CodeAiclkSweepStart {
		if err := c.ppm.Sweep(req.Data[1], req.Data[2]); err != nil {
			return 1
		}
	} else {
		c.ppm.StopSweep()
	}

	return 0
}

func (c *Controller) handleVoltageCurveFromFreq(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.curve == nil {
		return statusENoDev
	}

	mv := c.curve.Voltage(float32(req.Data[1]))
	if mv > 0 {
		rsp.Data[1] = uint32(mv)
	}

	return 0
}

func (c *Controller) handleFreqCurveFromVoltage(req *msgqueue.Request, rsp *msgqueue.Response) uint8 {
	if c.ppm == nil {
		return statusENoDev
	}

	rsp.Data[1] = c.ppm.MaxFreqForVoltage(req.Data[1])

	return 0
}
