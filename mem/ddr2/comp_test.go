package ddr2

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/devicemodel"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/addressmapping"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
	"github.com/sarchlab/ddr2ctrl/sim/queueing"
	"go.uber.org/mock/gomock"
)

func smallBuilder() Builder {
	return MakeBuilder().
		WithNumBank(4).
		WithNumRow(256).
		WithNumCol(64).
		WithPowerUpWait(20).
		WithClockEnableWait(5).
		WithCalibrationWait(0).
		WithTREFI(600).
		WithRefreshThreshold(150)
}

func atPos(pos *hooking.HookPos) gomock.Matcher {
	return gomock.Cond(func(ctx hooking.HookCtx) bool {
		return ctx.Pos == pos
	})
}

// rig connects a controller to one device model.
type rig struct {
	comp *Comp
	dev  *devicemodel.Device
	out  signal.DeviceOutput
}

func (r *rig) tick() signal.BusState {
	bus := r.comp.Tick(r.out)
	r.out = r.dev.Step(bus)

	return bus
}

func (r *rig) initialize() {
	r.comp.Initialize()

	for i := 0; i < 1000 && !r.comp.Ready(); i++ {
		r.tick()
	}

	Expect(r.comp.Ready()).To(BeTrue())
}

var _ = Describe("Comp", func() {
	var (
		mockCtrl *gomock.Controller
		hook     *MockHook
		r        *rig
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		hook = NewMockHook(mockCtrl)

		r = &rig{
			comp: smallBuilder().WithAdditionalHooks(hook).Build("Ctrl"),
			dev:  devicemodel.New(0, 4),
		}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should drive the bus hook once per tick", func() {
		hook.EXPECT().Func(atPos(HookPosBus)).Times(3)

		for i := 0; i < 3; i++ {
			bus := r.tick()
			Expect(bus.Cycle).To(Equal(uint64(i)))
		}

		Expect(r.comp.Status().Cycle).To(Equal(uint64(3)))
	})

	It("should refuse commands before initialization", func() {
		Expect(r.comp.AdmissionAllowed()).To(BeFalse())
		Expect(r.comp.Enqueue(Command{Opcode: OpScalarRead})).To(BeFalse())
		Expect(r.comp.Status().CommandQueueLen).To(Equal(0))
	})

	Context("when initialized", func() {
		BeforeEach(func() {
			hook.EXPECT().Func(atPos(HookPosBus)).AnyTimes()
			r.initialize()
		})

		It("should report the enqueued command", func() {
			cmd := Command{Opcode: OpScalarRead, Address: 0x40}

			hook.EXPECT().Func(atPos(queueing.HookPosBufPush))
			hook.EXPECT().Func(hooking.HookCtx{
				Domain: r.comp,
				Pos:    HookPosEnqueue,
				Item:   cmd,
			})

			Expect(r.comp.Enqueue(cmd)).To(BeTrue())
			Expect(r.comp.Status().CommandQueueLen).To(Equal(1))
		})

		It("should raise write backpressure below a burst of space", func() {
			hook.EXPECT().Func(atPos(queueing.HookPosBufPush)).Times(57)

			Expect(r.comp.WriteBackpressure()).To(BeFalse())

			for i := 0; i < 56; i++ {
				r.comp.PushWriteData(uint64(i))
			}
			Expect(r.comp.WriteBackpressure()).To(BeFalse())

			r.comp.PushWriteData(56)
			Expect(r.comp.WriteBackpressure()).To(BeTrue())
		})

		It("should write and read back through the device", func() {
			hook.EXPECT().Func(gomock.Any()).AnyTimes()

			for i := 0; i < BurstLength; i++ {
				Expect(r.comp.PushWriteData(0xa0 + uint64(i))).To(BeTrue())
			}
			Expect(r.comp.Enqueue(Command{Opcode: OpScalarWrite, Address: 0x48})).
				To(BeTrue())
			Expect(r.comp.Enqueue(Command{Opcode: OpScalarRead, Address: 0x48})).
				To(BeTrue())

			for i := 0; i < 500 && r.comp.Status().ReturnQueueLen < BurstLength; i++ {
				r.tick()
			}

			Expect(r.dev.Peek(devicemodel.Cell{Bank: 1, Column: 8})).
				To(Equal(uint64(0xa0)))

			for i := 0; i < BurstLength; i++ {
				e, ok := r.comp.PopReturn()
				Expect(ok).To(BeTrue())
				Expect(e.Address).To(Equal(uint64(0x48 + i)))
				Expect(e.Data).To(Equal(uint64(0xa0 + i)))
			}
		})

		It("should read data preloaded at a mapped location", func() {
			hook.EXPECT().Func(gomock.Any()).AnyTimes()

			loc := addressmapping.Location{Row: 5, Bank: 2, Column: 16}
			addr := r.comp.Mapper().Address(loc)
			Expect(r.comp.Mapper().Map(addr)).To(Equal(loc))

			for i := 0; i < BurstLength; i++ {
				r.dev.Store(devicemodel.Cell{
					Bank:   int(loc.Bank),
					Row:    loc.Row,
					Column: loc.Column + uint64(i),
				}, 0xc0+uint64(i))
			}

			Expect(r.comp.Enqueue(Command{Opcode: OpScalarRead, Address: addr})).
				To(BeTrue())
			for i := 0; i < 500 && r.comp.Status().ReturnQueueLen < BurstLength; i++ {
				r.tick()
			}

			for i := 0; i < BurstLength; i++ {
				e, ok := r.comp.PopReturn()
				Expect(ok).To(BeTrue())
				Expect(e.Address).To(Equal(addr + uint64(i)))
				Expect(e.Data).To(Equal(0xc0 + uint64(i)))
			}
		})

		It("should drop everything on reset", func() {
			hook.EXPECT().Func(gomock.Any()).AnyTimes()

			r.comp.PushWriteData(1)
			r.comp.Enqueue(Command{Opcode: OpScalarWrite})
			r.comp.Reset()
			r.tick()

			s := r.comp.Status()
			Expect(s.Ready).To(BeFalse())
			Expect(s.InitState).To(Equal("Idle"))
			Expect(s.CommandQueueLen).To(Equal(0))
			Expect(s.WriteDataQueueLen).To(Equal(0))
		})

		It("should initialize again when reset and initialize share a tick", func() {
			hook.EXPECT().Func(gomock.Any()).AnyTimes()

			r.comp.Reset()
			r.comp.Initialize()
			r.tick()

			Expect(r.comp.Ready()).To(BeFalse())
			Expect(r.comp.Status().InitState).To(Equal("PowerUpWait"))

			r.initialize()
		})
	})

	It("should mask write data to the word width", func() {
		c := smallBuilder().WithDataWidth(16).Build("Narrow")

		c.PushWriteData(0x12345)

		w, ok := c.writeData.Peek()
		Expect(ok).To(BeTrue())
		Expect(w).To(Equal(uint64(0x2345)))
	})
})
