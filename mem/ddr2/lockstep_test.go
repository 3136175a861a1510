package ddr2

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/devicemodel"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
)

var _ = Describe("Lockstep", func() {
	var (
		l    *Lockstep
		devs []*devicemodel.Device
		outs []signal.DeviceOutput
	)

	tick := func() {
		buses := l.Tick(outs)
		for i, d := range devs {
			outs[i] = d.Step(buses[i])
		}
	}

	BeforeEach(func() {
		l = BuildLockstep(smallBuilder().WithDataWidth(16), "Wide", 4)

		devs = nil
		for range l.Lanes() {
			devs = append(devs, devicemodel.New(0, 4))
		}
		outs = make([]signal.DeviceOutput, len(devs))

		l.Initialize()
		for i := 0; i < 1000 && !l.Ready(); i++ {
			tick()
		}
		Expect(l.Ready()).To(BeTrue())
	})

	It("should refuse lanes wider than a word", func() {
		Expect(func() { BuildLockstep(MakeBuilder(), "Wide", 2) }).To(Panic())
	})

	It("should give every lane the same command stream", func() {
		Expect(l.Enqueue(Command{Opcode: OpScalarRead, Address: 8})).To(BeTrue())

		for i := 0; i < 40; i++ {
			buses := l.Tick(outs)
			for _, b := range buses[1:] {
				Expect(b).To(Equal(buses[0]))
			}

			for j, d := range devs {
				outs[j] = d.Step(buses[j])
			}
		}
	})

	It("should drive power-down on every lane", func() {
		l.RequestPowerDown()
		for i := 0; i < 50 && !l.Status().PowerDownActive; i++ {
			tick()
		}

		for _, c := range l.Lanes() {
			Expect(c.Status().PowerDownActive).To(BeTrue())
		}
		Expect(l.Status().AdmissionAllowed).To(BeTrue())

		l.ExitPowerDown()
		for i := 0; i < 50 && l.Status().PowerDownActive; i++ {
			tick()
		}

		for _, c := range l.Lanes() {
			Expect(c.Status().PowerDownActive).To(BeFalse())
			Expect(c.Status().EngineState).To(Equal("Idle"))
		}
	})

	It("should reprogram the DLL of every lane", func() {
		l.RequestDLL(false)
		tick()
		tick()
		Expect(l.Status().DLLBusy).To(BeTrue())

		for i := 0; i < 1000 && l.Status().DLLBusy; i++ {
			tick()
		}

		for _, c := range l.Lanes() {
			Expect(c.Status().DLLBusy).To(BeFalse())
		}
		for _, d := range devs {
			Expect(d.DLLEnabled()).To(BeFalse())
		}
	})

	It("should report the shortest return queue of the lanes", func() {
		Expect(l.Enqueue(Command{Opcode: OpScalarRead, Address: 0})).To(BeTrue())
		for i := 0; i < 500 && l.Status().ReturnQueueLen < BurstLength; i++ {
			tick()
		}

		l.Lanes()[1].PopReturn()

		s := l.Status()
		Expect(s.ReturnQueueLen).To(Equal(BurstLength - 1))
		Expect(s.Ready).To(BeTrue())
	})

	It("should split and join wide words", func() {
		const base = uint64(0x1000_2000_3000_4000)

		for i := 0; i < BurstLength; i++ {
			Expect(l.PushWriteData(base + uint64(i))).To(BeTrue())
		}
		Expect(l.Enqueue(Command{Opcode: OpScalarWrite, Address: 0})).To(BeTrue())
		Expect(l.Enqueue(Command{Opcode: OpScalarRead, Address: 0})).To(BeTrue())

		_, ok := l.PopReturn()
		Expect(ok).To(BeFalse())

		for i := 0; i < 500 && l.Status().ReturnQueueLen < BurstLength; i++ {
			tick()
		}

		Expect(devs[0].Peek(devicemodel.Cell{})).To(Equal(uint64(0x4000)))
		Expect(devs[3].Peek(devicemodel.Cell{})).To(Equal(uint64(0x1000)))

		for i := 0; i < BurstLength; i++ {
			e, ok := l.PopReturn()
			Expect(ok).To(BeTrue())
			Expect(e.Address).To(Equal(uint64(i)))
			Expect(e.Data).To(Equal(base + uint64(i)))
		}
	})
})
