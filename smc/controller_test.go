package smc

import (
	"bytes"
	"encoding/binary"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bhmc/aiclk"
	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/harvesting"
	"github.com/sarchlab/bhmc/msgqueue"
	"github.com/sarchlab/bhmc/noc"
)

type fakeClock struct {
	rate uint32
}

func (f *fakeClock) SetRate(freqMHz uint32) error {
	f.rate = freqMHz
	return nil
}

func (f *fakeClock) Rate() (uint32, error) {
	return f.rate, nil
}

type fakeWdt struct {
	timeoutMS uint32
	disabled  bool
}

func (f *fakeWdt) InstallTimeout(ms uint32) error {
	f.timeoutMS = ms
	f.disabled = false
	return nil
}

func (f *fakeWdt) Disable() error {
	f.disabled = true
	return nil
}

type regKey struct {
	ring int
	x, y uint8
	reg  uint32
}

type memRegBus struct {
	regs map[regKey]uint32
}

func newMemRegBus() *memRegBus {
	return &memRegBus{regs: map[regKey]uint32{}}
}

func (b *memRegBus) Read(ring int, x, y uint8, reg uint32) uint32 {
	return b.regs[regKey{ring, x, y, reg}]
}

func (b *memRegBus) Write(ring int, x, y uint8, reg uint32, value uint32) {
	b.regs[regKey{ring, x, y, reg}] = value
}

func (b *memRegBus) ReadLocal(ring int, reg uint32) uint32 {
	return b.Read(ring, noc.ArcX, noc.ArcY, reg)
}

func (b *memRegBus) WriteLocal(ring int, reg uint32, value uint32) {
	b.Write(ring, noc.ArcX, noc.ArcY, reg, value)
}

// roundTrip pushes one request, runs a dispatch pass, and pops the response.
func roundTrip(c *Controller, q *msgqueue.Queue, req *msgqueue.Request) msgqueue.Response {
	Expect(q.PushRequest(0, req)).To(Succeed())
	c.Service()

	rsp, ok := q.PopResponse(0)
	Expect(ok).To(BeTrue())

	return rsp
}

var _ = Describe("Controller", func() {
	var (
		queue *msgqueue.Queue
		clock *fakeClock
		c     *Controller
	)

	BeforeEach(func() {
		queue = msgqueue.NewQueue("SMC.Queue")
		clock = &fakeClock{rate: 800}

		curve := aiclk.NewVFCurve().WithMargins(0, 0)
		ppm := aiclk.NewPPM(clock, curve).WithLimits(1400, 200)
		Expect(ppm.Init()).To(Succeed())

		c = NewController(queue).
			WithAiclk(ppm, curve).
			WithNocEngine(noc.NewEngine(newMemRegBus()), harvesting.AllEnabled())
	})

	It("should answer the test command with the payload plus one", func() {
		req := &msgqueue.Request{}
		req.Data[0] = CodeTest
		req.Data[1] = 0x73737373

		rsp := roundTrip(c, queue, req)

		Expect(rsp.Data[0]).To(BeZero())
		Expect(rsp.Data[1]).To(Equal(uint32(0x73737374)))
	})

	It("should return an all-zero response for an unknown command", func() {
		req := &msgqueue.Request{}
		req.Data[0] = 0xEE

		rsp := roundTrip(c, queue, req)

		Expect(rsp).To(Equal(msgqueue.Response{}))
	})

	Describe("reset command", func() {
		It("should issue a delayed reset request for a valid level", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeTriggerReset
			req.Data[1] = uint32(cm2dm.ResetLevelDmc)

			rsp := roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())

			Eventually(func() cm2dm.Message {
				return c.outbox.NextMessage()
			}).Should(Equal(cm2dm.Message{
				ID:   cm2dm.MsgIDResetReq,
				Seq:  0,
				Data: uint32(cm2dm.ResetLevelDmc),
			}))
		})

		It("should reject an unknown reset level without posting", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeTriggerReset
			req.Data[1] = 7

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(Equal(uint32(7)))
			Consistently(func() cm2dm.MsgID {
				return c.outbox.NextMessage().ID
			}, "30ms").Should(Equal(cm2dm.MsgIDNull))
		})
	})

	Describe("ping command", func() {
		It("should report the peer alive when the reply arrives in time", func() {
			go func() {
				defer GinkgoRecover()

				time.Sleep(10 * time.Millisecond)

				token := make([]byte, 2)
				binary.LittleEndian.PutUint16(token, cm2dm.PingToken)
				Expect(c.ReceivePingReply(token)).To(Succeed())
			}()

			req := &msgqueue.Request{}
			req.Data[0] = CodePingDM

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(BeZero())
			Expect(rsp.Data[1]).To(Equal(uint32(1)))
		})

		It("should report the peer dead on timeout", func() {
			c.WithPingTimeout(5 * time.Millisecond)

			req := &msgqueue.Request{}
			req.Data[0] = CodePingDM

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[1]).To(BeZero())
		})

		It("should reject a bad ping token", func() {
			Expect(c.ReceivePingReply([]byte{0x12, 0x34})).To(
				MatchError(ErrBadRecord))
		})
	})

	Describe("watchdog command", func() {
		It("should report a missing device", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeSetWdtTimeout
			req.Data[1] = 5000

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(Equal(uint32(statusENoDev)))
		})

		It("should program, bound, and disable the timeout", func() {
			wdt := &fakeWdt{}
			c.WithWatchdogDevice(wdt, 1000)

			req := &msgqueue.Request{}
			req.Data[0] = CodeSetWdtTimeout
			req.Data[1] = 5000

			rsp := roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())
			Expect(wdt.timeoutMS).To(Equal(uint32(5000)))

			req.Data[1] = 1000
			rsp = roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(Equal(uint32(statusENotSup)))

			req.Data[1] = 0
			rsp = roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())
			Expect(wdt.disabled).To(BeTrue())
		})
	})

	It("should forward fan and auto-reset settings to the peer", func() {
		req := &msgqueue.Request{}
		req.Data[0] = CodeForceFanSpeed
		req.Data[1] = 85

		rsp := roundTrip(c, queue, req)
		Expect(rsp.Data[0]).To(BeZero())

		msg := c.outbox.NextMessage()
		Expect(msg.ID).To(Equal(cm2dm.MsgIDForcedFanSpeedUpdate))
		Expect(msg.Data).To(Equal(uint32(85)))
	})

	Describe("debug translation command", func() {
		It("should reject an out-of-range DRAM channel", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeDebugNocTranslation |
				1<<8 | 1<<9 | 1<<10 |
				uint32(1|1<<3)<<16
			req.Data[1] = 8 | uint32(1<<1|1<<3)<<8

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(Equal(uint32(statusEInval)))
		})

		It("should reprogram translation with the sentinel channel", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeDebugNocTranslation | 1<<8
			req.Data[1] = uint32(harvesting.NoBadGDDR)

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(BeZero())
			Expect(c.nocEngine.Enabled()).To(BeTrue())
		})

		It("should survive a skip mask denser than the Ethernet slots", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeDebugNocTranslation | 1<<8
			req.Data[1] = uint32(harvesting.NoBadGDDR) | 0x07<<8

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(BeZero())
			Expect(c.nocEngine.Enabled()).To(BeTrue())
		})

		It("should leave translation off when enable is clear", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeDebugNocTranslation
			req.Data[1] = uint32(harvesting.NoBadGDDR)

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(BeZero())
			Expect(c.nocEngine.Enabled()).To(BeFalse())
		})
	})

	Describe("clock commands", func() {
		It("should raise the clock on go-busy and lower it on long-idle", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeAiclkGoBusy

			rsp := roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())
			Expect(clock.rate).To(Equal(uint32(1400)))

			req.Data[0] = CodeAiclkGoLongIdle
			rsp = roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())
			Expect(clock.rate).To(Equal(uint32(200)))
		})

		It("should force and report the clock", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeForceAiclk
			req.Data[1] = 950

			rsp := roundTrip(c, queue, req)
			Expect(rsp.Data[0]).To(BeZero())
			Expect(clock.rate).To(Equal(uint32(950)))

			req = &msgqueue.Request{}
			req.Data[0] = CodeGetAiclk

			rsp = roundTrip(c, queue, req)
			Expect(rsp.Data[1]).To(Equal(uint32(950)))
			Expect(rsp.Data[2]).To(Equal(uint32(aiclk.ModeForced)))
		})

		It("should reject an out-of-range forced frequency", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeForceAiclk
			req.Data[1] = 5000

			rsp := roundTrip(c, queue, req)

			Expect(rsp.Data[0]).To(Equal(uint32(1)))
		})

		It("should evaluate the voltage-frequency curve both ways", func() {
			req := &msgqueue.Request{}
			req.Data[0] = CodeVoltageCurveFromFreq
			req.Data[1] = 1400

			rsp := roundTrip(c, queue, req)
			Expect(rsp.Data[1]).To(Equal(uint32(828)))

			req = &msgqueue.Request{}
			req.Data[0] = CodeFreqCurveFromVoltage
			req.Data[1] = 829

			rsp = roundTrip(c, queue, req)
			Expect(rsp.Data[1]).To(Equal(uint32(1400)))
		})
	})

	Describe("peer transport records", func() {
		It("should ingest static info and expose the versions", func() {
			info := cm2dm.StaticInfo{
				Version:    1,
				BLVersion:  0x010203,
				AppVersion: 0x040506,
			}

			Expect(c.ReceiveStaticInfo(info.Encode(nil))).To(Succeed())

			Expect(c.SelectTelemetryTag([]byte{uint8(TagDMAppFWVersion)})).
				To(Succeed())

			data := c.ReadTelemetryData()
			Expect(data[0]).To(BeZero())
			Expect(binary.LittleEndian.Uint32(data[3:])).To(
				Equal(uint32(0x040506)))
		})

		It("should reject static info with version zero", func() {
			info := cm2dm.StaticInfo{}

			Expect(c.ReceiveStaticInfo(info.Encode(nil))).To(
				MatchError(ErrBadRecord))
		})

		It("should flag a never-written telemetry tag", func() {
			Expect(c.SelectTelemetryTag([]byte{0x77})).To(Succeed())

			data := c.ReadTelemetryData()
			Expect(data[0]).To(Equal(uint8(1)))
		})

		It("should record power, fan, and therm-trip telemetry", func() {
			word := func(v uint16) []byte {
				buf := make([]byte, 2)
				binary.LittleEndian.PutUint16(buf, v)
				return buf
			}

			Expect(c.ReceiveInputPower(word(275))).To(Succeed())
			Expect(c.ReceiveFanRPM(word(3200))).To(Succeed())
			Expect(c.ReceiveThermTripCount(word(2))).To(Succeed())

			Expect(c.InputPower()).To(Equal(uint16(275)))

			v, ok := c.telemetry.Get(TagFanRPM)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(3200)))

			Expect(c.ReceiveInputPower([]byte{1})).To(
				MatchError(cm2dm.ErrBadLength))
		})

		It("should pass peer logs to the sink", func() {
			var sink bytes.Buffer
			c.WithDMCLogSink(&sink)

			Expect(c.ReceiveDMCLog([]byte("dm boot ok\n"))).To(Succeed())
			Expect(sink.String()).To(Equal("dm boot ok\n"))
		})
	})

	Describe("control data block", func() {
		It("should carry the reset flags with a valid trailing PEC", func() {
			c.IssueChipReset(cm2dm.ResetLevelDmc)

			data := c.ReadControlData()
			Expect(data).To(HaveLen(20))

			ctl := binary.LittleEndian.Uint32(data[11:])
			Expect(ctl & ctlTriggerAsicAndDmcReset).NotTo(BeZero())
			Expect(ctl & ctlTriggerAsicReset).To(BeZero())

			pec := crc8([]byte{20}, 0)
			pec = crc8(data[:19], pec)
			Expect(data[19]).To(Equal(pec))
		})
	})

	Describe("outbound transport adapters", func() {
		It("should encode the pending message and retire it on ack", func() {
			c.UpdateFanSpeed(42)

			wire := c.OutboundMessage()
			msg, err := cm2dm.DecodeMessage(wire)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.ID).To(Equal(cm2dm.MsgIDFanSpeedUpdate))
			Expect(msg.Data).To(Equal(uint32(42)))

			ack := cm2dm.Ack{ID: msg.ID, Seq: msg.Seq}
			Expect(c.AckOutbound(ack.Encode(nil))).To(Succeed())

			next, _ := cm2dm.DecodeMessage(c.OutboundMessage())
			Expect(next.ID).To(Equal(cm2dm.MsgIDNull))
		})
	})

	Describe("event servicing", func() {
		It("should turn a thermal trip into a reset request", func() {
			c.Events().Post(EventThermTrip)
			c.Service()

			msg := c.outbox.NextMessage()
			Expect(msg.ID).To(Equal(cm2dm.MsgIDResetReq))
			Expect(msg.Data).To(Equal(uint32(cm2dm.ResetLevelAsic)))
		})

		It("should post the heartbeat on the telemetry tick", func() {
			c.TelemetryTick()

			msg := c.outbox.NextMessage()
			Expect(msg.ID).To(Equal(cm2dm.MsgIDTelemHeartbeatUpdate))
			Expect(msg.Data).To(Equal(uint32(1)))
		})
	})
})
