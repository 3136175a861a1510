// Package ddr2 provides a cycle-driven DDR2 memory controller. It brings the
// device up, keeps it refreshed and turns host commands into device commands
// with every spacing enforced by counters.
package ddr2

import (
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/addressmapping"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/capture"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/initseq"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/org"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/protocol"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/rankfanout"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
	"github.com/sarchlab/ddr2ctrl/sim/naming"
	"github.com/sarchlab/ddr2ctrl/sim/queueing"
)

// HookPosBus marks the bus state the controller drives in a tick. The item is
// a signal.BusState.
var HookPosBus = &hooking.HookPos{Name: "DDR2 Bus"}

// HookPosEnqueue marks a command accepted from the host. The item is the
// Command.
var HookPosEnqueue = &hooking.HookPos{Name: "DDR2 Enqueue"}

// Status is a snapshot of the controller.
type Status struct {
	Cycle            uint64
	Ready            bool
	AdmissionAllowed bool
	InitState        string

	EngineState       string
	Opcode            string
	SubBurst          int
	RefreshCounter    int
	DLLBusy           bool
	SelfRefreshActive bool
	PowerDownActive   bool

	CommandQueueLen   int
	WriteDataQueueLen int
	ReturnQueueLen    int
}

type requests struct {
	initialize bool
	reset      bool

	selfRefresh     bool
	selfRefreshExit bool
	powerDown       bool
	powerDownExit   bool
	dll             bool
	dllEnable       bool
}

// Comp is a DDR2 controller. It is advanced by calling Tick once per clock
// cycle with what the devices drove in that cycle.
type Comp struct {
	hooking.HookableBase

	name   string
	config Config
	mapper addressmapping.Mapper

	commands  queueing.Buffer[Command]
	writeData queueing.Buffer[uint64]
	returns   queueing.Buffer[ReturnEntry]

	seq    *initseq.Sequencer
	engine *protocol.Engine
	ring   capture.RingBuffer
	fanout rankfanout.FanOut

	cycle       uint64
	readPointer int
	pending     requests
}

func newComp(name string, cfg Config) *Comp {
	c := &Comp{
		name:   name,
		config: cfg,
		fanout: rankfanout.New(cfg.NumRank),
	}

	c.mapper = addressmapping.MakeBuilder().
		WithRowBits(log2(cfg.NumRow)).
		WithBankBits(log2(cfg.NumBank)).
		WithColBits(log2(cfg.NumCol)).
		Build()

	c.commands = queueing.BuildBuffer[Command](
		queueing.MakeBufferBuilder().WithCapacity(cfg.CommandQueueSize),
		naming.BuildName(name, "CommandQueue"))
	c.writeData = queueing.BuildBuffer[uint64](
		queueing.MakeBufferBuilder().WithCapacity(cfg.WriteDataQueueSize),
		naming.BuildName(name, "WriteDataQueue"))
	c.returns = queueing.BuildBuffer[ReturnEntry](
		queueing.MakeBufferBuilder().WithCapacity(cfg.ReturnQueueSize),
		naming.BuildName(name, "ReturnQueue"))

	c.seq = initseq.New(initseq.Config{
		PowerUpWait:      cfg.PowerUpWait,
		ClockEnableWait:  cfg.ClockEnableWait,
		PrechargeWait:    cfg.TRPA,
		ModeRegisterWait: cfg.TMRD,
		RefreshWait:      cfg.TRFC,
		CalibrationWait:  cfg.CalibrationWait,
		EMR2:             cfg.EMR2,
		EMR3:             cfg.EMR3,
		EMR1Init:         signal.EncodeEMR1(true, signal.RttDisabled, cfg.AL, false),
		MRDLLReset:       cfg.MR | signal.MRDLLReset,
		MRFinal:          cfg.MR,
		EMR1Final:        cfg.EMR1,
	})

	channel := org.NewChannel(cfg.NumRank, cfg.NumBank,
		org.GenerateTiming(cfg.timingParams()))

	c.engine = protocol.NewEngine(protocol.Config{
		NumRank:             cfg.NumRank,
		Mapper:              c.mapper,
		ReadLatency:         cfg.RL,
		WriteLatency:        cfg.WL,
		TRCD:                cfg.TRCD,
		TRPA:                cfg.TRPA,
		TWR:                 cfg.TWR,
		TMRD:                cfg.TMRD,
		TRFC:                cfg.TRFC,
		MinActivateGap:      cfg.MinActivateGap,
		RefreshInterval:     cfg.TREFI,
		RefreshThreshold:    cfg.RefreshThreshold,
		SelfRefreshExit:     cfg.TXSNR,
		PowerDownExit:       cfg.TXP,
		DLLLockWait:         cfg.DLLLockWait,
		AutoSelfRefreshIdle: cfg.AutoSelfRefreshIdle,
		ReturnMargin:        cfg.ReturnMargin,
		EMR1DLLOn:           cfg.EMR1DLLOn,
		EMR1DLLOff:          cfg.EMR1DLLOff,
		ODT:                 cfg.ODT(),
		DataMask:            cfg.DataMask(),
	}, channel, protocol.Queues{
		Commands:  c.commands,
		WriteData: c.writeData,
		Returns:   c.returns,
	})

	return c
}

// Name returns the name of the controller.
func (c *Comp) Name() string {
	return c.name
}

// Config returns the configuration the controller was built with.
func (c *Comp) Config() Config {
	return c.config
}

// Mapper returns how the controller splits word addresses into rows, banks
// and columns.
func (c *Comp) Mapper() addressmapping.Mapper {
	return c.mapper
}

// Queues returns the command, write-data and return queues, for inspection.
func (c *Comp) Queues() []queueing.Queue {
	return []queueing.Queue{c.commands, c.writeData, c.returns}
}

// AcceptHook registers a hook with the controller and its queues.
func (c *Comp) AcceptHook(h hooking.Hook) {
	c.HookableBase.AcceptHook(h)
	c.commands.AcceptHook(h)
	c.writeData.AcceptHook(h)
	c.returns.AcceptHook(h)
}

// Ready returns true once initialization has completed.
func (c *Comp) Ready() bool {
	return c.seq.Ready()
}

// AdmissionAllowed tells the host whether Enqueue would accept a command.
func (c *Comp) AdmissionAllowed() bool {
	return c.Ready() && c.commands.CanPush()
}

// WriteBackpressure is raised while the write-data queue cannot take a whole
// burst.
func (c *Comp) WriteBackpressure() bool {
	return c.writeData.Free() < BurstLength
}

// Enqueue admits a host command. It returns false if admission is not
// allowed, in which case the command is not stored.
func (c *Comp) Enqueue(cmd Command) bool {
	if !c.AdmissionAllowed() {
		return false
	}

	c.commands.TryPush(cmd)

	if c.NumHooks() > 0 {
		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    HookPosEnqueue,
			Item:   cmd,
		})
	}

	return true
}

// PushWriteData queues one word of write data. Words are consumed in order
// by write commands, one burst at a time.
func (c *Comp) PushWriteData(word uint64) bool {
	return c.writeData.TryPush(word & c.config.DataMask())
}

// PopReturn takes the oldest word of read data.
func (c *Comp) PopReturn() (ReturnEntry, bool) {
	return c.returns.Pop()
}

// PeekReturn returns the oldest word of read data without removing it.
func (c *Comp) PeekReturn() (ReturnEntry, bool) {
	return c.returns.Peek()
}

// Initialize starts the power-up program at the next tick.
func (c *Comp) Initialize() {
	c.pending.initialize = true
}

// Reset returns the controller to its power-on state at the next tick. All
// queued commands and data are dropped. An Initialize call after Reset and
// before that tick restarts the power-up program right away.
func (c *Comp) Reset() {
	c.pending = requests{reset: true}
}

// RequestSelfRefresh asks the controller to put the devices into
// self-refresh once it is idle.
func (c *Comp) RequestSelfRefresh() {
	c.pending.selfRefresh = true
}

// ExitSelfRefresh asks the controller to wake the devices from self-refresh.
func (c *Comp) ExitSelfRefresh() {
	c.pending.selfRefreshExit = true
}

// RequestPowerDown asks the controller to enter precharge power-down once it
// is idle.
func (c *Comp) RequestPowerDown() {
	c.pending.powerDown = true
}

// ExitPowerDown asks the controller to leave power-down.
func (c *Comp) ExitPowerDown() {
	c.pending.powerDownExit = true
}

// RequestDLL asks the controller to switch the device DLL on or off. The
// switch happens once the command queue is empty.
func (c *Comp) RequestDLL(enable bool) {
	c.pending.dll = true
	c.pending.dllEnable = enable
}

// Status returns a snapshot of the controller.
func (c *Comp) Status() Status {
	es := c.engine.Status()

	return Status{
		Cycle:             c.cycle,
		Ready:             c.Ready(),
		AdmissionAllowed:  c.AdmissionAllowed(),
		InitState:         c.seq.State().String(),
		EngineState:       es.State.String(),
		Opcode:            es.Opcode.String(),
		SubBurst:          es.SubBurst,
		RefreshCounter:    es.RefreshCounter,
		DLLBusy:           es.DLLBusy,
		SelfRefreshActive: es.SelfRefreshActive,
		PowerDownActive:   es.PowerDownActive,
		CommandQueueLen:   c.commands.Size(),
		WriteDataQueueLen: c.writeData.Size(),
		ReturnQueueLen:    c.returns.Size(),
	}
}

// Tick advances the controller by one cycle. dev is what the devices drive
// in this cycle; the returned bus state is what the controller drives.
func (c *Comp) Tick(dev signal.DeviceOutput) signal.BusState {
	req := c.pending
	c.pending = requests{}

	if req.reset {
		c.resetDatapath()
	}

	var bus signal.BusState

	seqOut := c.seq.Step(req.reset, req.initialize)
	if !seqOut.Ready {
		bus = signal.BusState{
			ChipSelect: c.fanout.Select(seqOut.Select, false, false, 0),
			Kind:       seqOut.Kind,
			Bank:       seqOut.Bank,
			Address:    seqOut.Address,
			CKE:        seqOut.CKE,
		}

		c.ring.Step(false, dev.DQS, dev.DQ)
	} else {
		out := c.engine.Step(protocol.Input{
			Ready:              true,
			CapturedWord:       c.ring.At(c.readPointer),
			SelfRefreshRequest: req.selfRefresh,
			SelfRefreshExit:    req.selfRefreshExit,
			PowerDownRequest:   req.powerDown,
			PowerDownExit:      req.powerDownExit,
			DLLRequest:         req.dll,
			DLLEnable:          req.dllEnable,
		})
		c.readPointer = out.ReadPointer

		bus = signal.BusState{
			ChipSelect: c.fanout.Select(out.Select, true, out.Broadcast, out.Rank),
			Kind:       out.Kind,
			Bank:       out.Bank,
			Address:    out.Address,
			CKE:        out.CKE,
			ODT:        out.ODT,
			DQ:         out.DQ,
			DQSDriven:  out.DQSDriven,
			DQS:        out.DQS,
			DM:         out.DM,
		}

		c.ring.Step(out.Listen, dev.DQS, dev.DQ)
	}

	bus.Cycle = c.cycle
	c.cycle++

	if c.NumHooks() > 0 {
		c.InvokeHook(hooking.HookCtx{
			Domain: c,
			Pos:    HookPosBus,
			Item:   bus,
		})
	}

	return bus
}

func (c *Comp) resetDatapath() {
	c.engine.Reset()
	c.commands.Clear()
	c.writeData.Clear()
	c.returns.Clear()
	c.ring = capture.RingBuffer{}
	c.readPointer = 0
}
