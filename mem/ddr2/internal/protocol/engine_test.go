package protocol

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/addressmapping"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/org"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/queueing"
)

type issued struct {
	tick int
	out  Output
}

var _ = Describe("Engine", func() {
	var (
		cfg     Config
		params  org.TimingParams
		queues  Queues
		engine  *Engine
		tick    int
		outputs []issued
		slots   [BurstLength]uint64
		lastPtr int
		visited []State
	)

	build := func() {
		channel := org.NewChannel(cfg.NumRank, 4, org.GenerateTiming(params))
		engine = NewEngine(cfg, channel, queues)
	}

	step := func(in Input) Output {
		in.Ready = true
		in.CapturedWord = slots[lastPtr]

		out := engine.Step(in)
		lastPtr = out.ReadPointer
		outputs = append(outputs, issued{tick: tick, out: out})
		visited = append(visited, engine.State())
		tick++

		return out
	}

	run := func(n int) {
		for i := 0; i < n; i++ {
			step(Input{})
		}
	}

	commands := func() []issued {
		var list []issued
		for _, o := range outputs {
			if o.out.Select {
				list = append(list, o)
			}
		}

		return list
	}

	firstOf := func(kind signal.CommandKind) issued {
		for _, o := range outputs {
			if o.out.Select && o.out.Kind == kind {
				return o
			}
		}

		Fail("command " + kind.String() + " never issued")

		return issued{}
	}

	entered := func(s State) int {
		for i, v := range visited {
			if v == s {
				return i
			}
		}

		return -1
	}

	makeRefreshDue := func() {
		engine.refreshCounter = cfg.RefreshThreshold - 1
	}

	BeforeEach(func() {
		params = org.TimingParams{
			Burst: BurstLength,
			RL:    4,
			WL:    3,
			TRCD:  3,
			TRP:   3,
			TRPA:  4,
			TRAS:  8,
			TRC:   11,
			TRRD:  2,
			TRTP:  2,
			TWR:   3,
			TWTR:  2,
			TRFC:  10,
			TMRD:  2,
		}

		cfg = Config{
			NumRank:          2,
			Mapper:           addressmapping.MakeBuilder().WithRowBits(8).WithBankBits(2).WithColBits(6).Build(),
			ReadLatency:      params.RL,
			WriteLatency:     params.WL,
			TRCD:             params.TRCD,
			TRPA:             params.TRPA,
			TWR:              params.TWR,
			TMRD:             params.TMRD,
			TRFC:             params.TRFC,
			MinActivateGap:   3,
			RefreshInterval:  100000,
			RefreshThreshold: 20,
			SelfRefreshExit:  5,
			PowerDownExit:    2,
			DLLLockWait:      6,
			EMR1DLLOn:        0x0,
			EMR1DLLOff:       0x1,
			ReturnMargin:     0,
			DataMask:         ^uint64(0),
		}

		queues = Queues{
			Commands: queueing.BuildBuffer[Command](
				queueing.MakeBufferBuilder().WithCapacity(64), "Cmd"),
			WriteData: queueing.BuildBuffer[uint64](
				queueing.MakeBufferBuilder().WithCapacity(64), "WriteData"),
			Returns: queueing.BuildBuffer[ReturnEntry](
				queueing.MakeBufferBuilder().WithCapacity(128), "Return"),
		}

		for i := range slots {
			slots[i] = uint64(0xa0 + i)
		}

		tick = 0
		lastPtr = 0
		outputs = nil
		visited = nil

		build()
	})

	It("should stay idle without commands", func() {
		run(50)

		Expect(commands()).To(BeEmpty())
		Expect(engine.State()).To(Equal(StateIdle))
	})

	It("should do nothing before the device is ready", func() {
		Expect(queues.Commands.TryPush(Command{Opcode: OpScalarRead})).
			To(BeTrue())

		for i := 0; i < 20; i++ {
			out := engine.Step(Input{})
			Expect(out.Select).To(BeFalse())
		}

		Expect(queues.Commands.Size()).To(Equal(1))
	})

	It("should perform a scalar read", func() {
		queues.Commands.TryPush(Command{
			Opcode: OpScalarRead, Address: 0x13, Rank: 1,
		})

		run(40)

		cmds := commands()
		Expect(cmds).To(HaveLen(2))
		Expect(cmds[0].out.Kind).To(Equal(signal.CmdKindActivate))
		Expect(cmds[0].out.Rank).To(Equal(1))
		Expect(cmds[1].out.Kind).To(Equal(signal.CmdKindReadPrecharge))
		Expect(cmds[1].tick - cmds[0].tick).
			To(BeNumerically(">=", params.TRCD))
		Expect(cmds[1].out.Address & signal.AutoPrechargeBit).NotTo(BeZero())
		Expect(signal.DecodeColumn(cmds[1].out.Address)).
			To(Equal(uint64(0x10)))

		listens := 0
		for _, o := range outputs {
			if o.out.Listen {
				listens++
				Expect(o.tick - cmds[1].tick).To(Equal(params.RL))
			}
		}
		Expect(listens).To(Equal(1))

		Expect(queues.Returns.Size()).To(Equal(BurstLength))
		for i := 0; i < BurstLength; i++ {
			e, _ := queues.Returns.Pop()
			Expect(e.Address).To(Equal(uint64(0x10 + i)))
			Expect(e.Data).To(Equal(uint64(0xa0 + i)))
		}

		Expect(engine.State()).To(Equal(StateIdle))
	})

	It("should wait for write data before starting a write", func() {
		queues.Commands.TryPush(Command{Opcode: OpScalarWrite, Address: 0x40})
		for i := 0; i < 4; i++ {
			queues.WriteData.TryPush(uint64(i))
		}

		run(30)
		Expect(commands()).To(BeEmpty())

		for i := 4; i < 8; i++ {
			queues.WriteData.TryPush(uint64(i))
		}

		run(40)
		Expect(commands()).To(HaveLen(2))
		Expect(queues.WriteData.Size()).To(Equal(0))
	})

	It("should perform a scalar write", func() {
		for i := 0; i < BurstLength; i++ {
			queues.WriteData.TryPush(uint64(0x100 + i))
		}
		queues.Commands.TryPush(Command{Opcode: OpScalarWrite, Address: 0x48})

		run(40)

		wr := firstOf(signal.CmdKindWritePrecharge)

		var beats []issued
		for _, o := range outputs {
			if o.out.DQSDriven {
				beats = append(beats, o)
			}
		}

		Expect(beats).To(HaveLen(BurstLength))
		for i, b := range beats {
			Expect(b.tick - wr.tick).To(Equal(params.WL + i))
			Expect(b.out.DQ).To(Equal(uint64(0x100 + i)))
			Expect(b.out.DM).To(BeFalse())
			Expect(b.out.DQS).To(Equal(i%2 == 0))
		}

		Expect(engine.State()).To(Equal(StateIdle))
	})

	It("should drop reserved opcodes", func() {
		queues.Commands.TryPush(Command{Opcode: Opcode(7)})
		queues.Commands.TryPush(Command{Opcode: OpNoOp})

		run(20)

		Expect(commands()).To(BeEmpty())
		Expect(queues.Commands.Size()).To(Equal(0))
	})

	It("should split block reads into ordered bursts", func() {
		queues.Commands.TryPush(Command{
			Opcode: OpBlockRead, Size: 3, Address: 0x80,
		})

		run(100)

		var kinds []signal.CommandKind
		for _, c := range commands() {
			kinds = append(kinds, c.out.Kind)
		}
		Expect(kinds).To(Equal([]signal.CommandKind{
			signal.CmdKindActivate,
			signal.CmdKindRead,
			signal.CmdKindRead,
			signal.CmdKindReadPrecharge,
		}))

		Expect(queues.Returns.Size()).To(Equal(3 * BurstLength))
		for i := 0; i < 3*BurstLength; i++ {
			e, _ := queues.Returns.Pop()
			Expect(e.Address).To(Equal(uint64(0x80 + i)))
		}
	})

	It("should clamp block sizes", func() {
		Expect(Command{Opcode: OpBlockRead, Size: 9}.NumBursts()).
			To(Equal(MaxSubBursts))
		Expect(Command{Opcode: OpBlockWrite, Size: 0}.NumBursts()).To(Equal(1))
		Expect(Command{Opcode: OpScalarRead, Size: 4}.NumBursts()).To(Equal(1))
	})

	It("should defer a block read until the return queue has room", func() {
		for i := 0; i < 128-16; i++ {
			queues.Returns.TryPush(ReturnEntry{})
		}
		queues.Commands.TryPush(Command{
			Opcode: OpBlockRead, Size: 4, Address: 0,
		})

		run(50)
		Expect(commands()).To(BeEmpty())

		for i := 0; i < 16; i++ {
			queues.Returns.Pop()
		}

		run(150)
		Expect(commands()).NotTo(BeEmpty())
		Expect(queues.Returns.Size()).To(Equal(128))
	})

	It("should precharge a conflicting row before activating", func() {
		for i := 0; i < 2*BurstLength; i++ {
			queues.WriteData.TryPush(uint64(i))
		}
		// The first burst leaves row 3 of bank 3 open. The read goes to row 5
		// of the same bank.
		queues.Commands.TryPush(Command{
			Opcode: OpBlockWrite, Size: 2, Address: 0x3f8,
		})
		queues.Commands.TryPush(Command{Opcode: OpScalarRead, Address: 0x5c0})

		run(120)

		var kinds []signal.CommandKind
		for _, c := range commands() {
			kinds = append(kinds, c.out.Kind)
		}
		Expect(kinds).To(Equal([]signal.CommandKind{
			signal.CmdKindActivate,
			signal.CmdKindWrite,
			signal.CmdKindActivate,
			signal.CmdKindWritePrecharge,
			signal.CmdKindPrecharge,
			signal.CmdKindActivate,
			signal.CmdKindReadPrecharge,
		}))

		pre := firstOf(signal.CmdKindPrecharge)
		Expect(pre.out.Bank).To(Equal(3))
		Expect(queues.Returns.Size()).To(Equal(BurstLength))
	})

	It("should insert a refresh when the counter runs low", func() {
		cfg.RefreshInterval = 60
		build()

		run(200)

		var refs []int
		for _, c := range commands() {
			Expect(c.out.Broadcast).To(BeTrue())
			if c.out.Kind == signal.CmdKindAutoRefresh {
				refs = append(refs, c.tick)
			}
		}

		Expect(refs).NotTo(BeEmpty())
		Expect(refs[0]).To(BeNumerically(">=", 60-20))
		for i := 1; i < len(refs); i++ {
			Expect(refs[i] - refs[i-1]).To(BeNumerically(">=", 60-20))
			Expect(refs[i] - refs[i-1]).To(BeNumerically("<=", 60))
		}

		pre := firstOf(signal.CmdKindPrechargeAll)
		Expect(refs[0] - pre.tick).To(BeNumerically(">=", params.TRPA))
	})

	It("should enter and leave self-refresh", func() {
		step(Input{SelfRefreshRequest: true})
		run(20)

		sre := firstOf(signal.CmdKindSelfRefreshEntry)
		Expect(sre.out.CKE).To(BeFalse())
		Expect(engine.Status().SelfRefreshActive).To(BeTrue())
		Expect(engine.State()).To(Equal(StateSelfRefreshIdle))

		queues.Commands.TryPush(Command{Opcode: OpScalarRead})
		mark := len(outputs)
		run(50)

		for _, o := range outputs[mark:] {
			Expect(o.out.CKE).To(BeFalse())
			Expect(o.out.Select).To(BeFalse())
		}

		step(Input{SelfRefreshExit: true})
		exitTick := tick
		run(40)

		Expect(engine.Status().SelfRefreshActive).To(BeFalse())
		act := firstOf(signal.CmdKindActivate)
		Expect(act.tick - exitTick).To(BeNumerically(">=", cfg.SelfRefreshExit))
		Expect(queues.Returns.Size()).To(Equal(BurstLength))
	})

	It("should leave auto self-refresh when a command arrives", func() {
		cfg.AutoSelfRefreshIdle = 10
		build()

		run(30)
		Expect(engine.Status().SelfRefreshActive).To(BeTrue())

		queues.Commands.TryPush(Command{Opcode: OpScalarRead})
		run(30)

		Expect(engine.Status().SelfRefreshActive).To(BeFalse())
		Expect(queues.Returns.Size()).To(Equal(BurstLength))
	})

	It("should hold clock enable low in power-down", func() {
		step(Input{PowerDownRequest: true})
		run(15)

		Expect(engine.Status().PowerDownActive).To(BeTrue())
		Expect(outputs[len(outputs)-1].out.CKE).To(BeFalse())

		step(Input{PowerDownExit: true})
		run(10)

		Expect(engine.Status().PowerDownActive).To(BeFalse())
		Expect(engine.State()).To(Equal(StateIdle))
	})

	It("should reprogram the DLL", func() {
		step(Input{DLLRequest: true, DLLEnable: false})
		run(3)
		Expect(engine.Status().DLLBusy).To(BeTrue())

		run(20)
		Expect(engine.Status().DLLBusy).To(BeFalse())

		mrs := firstOf(signal.CmdKindModeRegisterSet)
		Expect(mrs.out.Bank).To(Equal(signal.ExtModeReg1))
		Expect(mrs.out.Address).To(Equal(cfg.EMR1DLLOff))
		Expect(mrs.out.Broadcast).To(BeTrue())
	})

	DescribeTable("should pick the idle branch by priority",
		func(refreshDue bool, in Input, want State) {
			if refreshDue {
				makeRefreshDue()
			}

			step(in)

			Expect(engine.State()).To(Equal(want))
		},
		Entry("self-refresh over DLL and power-down", false,
			Input{SelfRefreshRequest: true, DLLRequest: true, PowerDownRequest: true},
			StateSelfRefreshPrecharge),
		Entry("self-refresh over a due refresh", true,
			Input{SelfRefreshRequest: true}, StateSelfRefreshPrecharge),
		Entry("DLL over power-down", false,
			Input{DLLRequest: true, PowerDownRequest: true}, StateDllPrecharge),
		Entry("power-down over a due refresh", true,
			Input{PowerDownRequest: true}, StatePowerDownPrecharge),
		Entry("refresh over a DLL request", true,
			Input{DLLRequest: true}, StateRefreshPrecharge),
	)

	It("should reprogram the DLL only after a due refresh", func() {
		makeRefreshDue()

		step(Input{DLLRequest: true, DLLEnable: false})
		run(40)

		Expect(entered(StateRefreshPrecharge)).To(Equal(0))
		Expect(entered(StateDllPrecharge)).
			To(BeNumerically(">", entered(StateRefreshIdle)))
		Expect(firstOf(signal.CmdKindModeRegisterSet).tick).
			To(BeNumerically(">", firstOf(signal.CmdKindAutoRefresh).tick))
		Expect(engine.Status().DLLBusy).To(BeFalse())
	})

	It("should run the requests a self-refresh held back in order", func() {
		step(Input{SelfRefreshRequest: true, DLLRequest: true, PowerDownRequest: true})
		run(20)
		Expect(engine.State()).To(Equal(StateSelfRefreshIdle))

		step(Input{SelfRefreshExit: true})
		run(60)

		sr := entered(StateSelfRefreshPrecharge)
		dll := entered(StateDllPrecharge)
		pd := entered(StatePowerDownPrecharge)

		Expect(sr).To(Equal(0))
		Expect(dll).To(BeNumerically(">", entered(StateSelfRefreshExitWait)))
		Expect(pd).To(BeNumerically(">", entered(StateDllLockWait)))
		Expect(engine.Status().PowerDownActive).To(BeTrue())
	})

	It("should hold a power-down request until self-refresh ends", func() {
		step(Input{SelfRefreshRequest: true})
		run(20)
		Expect(engine.State()).To(Equal(StateSelfRefreshIdle))

		step(Input{PowerDownRequest: true})
		run(10)
		Expect(engine.State()).To(Equal(StateSelfRefreshIdle))
		Expect(engine.Status().PowerDownActive).To(BeFalse())

		step(Input{SelfRefreshExit: true})
		run(30)

		Expect(entered(StatePowerDownPrecharge)).
			To(BeNumerically(">", entered(StateSelfRefreshExitWait)))
		Expect(engine.Status().SelfRefreshActive).To(BeFalse())
		Expect(engine.Status().PowerDownActive).To(BeTrue())
	})

	It("should put DLL reconfiguration behind queued commands", func() {
		queues.Commands.TryPush(Command{Opcode: OpScalarRead})

		step(Input{DLLRequest: true, DLLEnable: true})
		run(60)

		cmds := commands()
		Expect(cmds[0].out.Kind).To(Equal(signal.CmdKindActivate))
		Expect(firstOf(signal.CmdKindModeRegisterSet).tick).
			To(BeNumerically(">", cmds[1].tick))
	})
})
