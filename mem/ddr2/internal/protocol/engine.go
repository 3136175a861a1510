// Package protocol implements the transaction engine of the DDR2 controller.
// Once the device is initialized, the engine turns host commands into device
// commands, keeps the device refreshed and handles the low-power modes.
package protocol

import (
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/addressmapping"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/org"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/queueing"
)

// Config holds the cycle counts the engine sequences by. Spacings enforced
// by the bank timing table are not repeated here.
type Config struct {
	NumRank int
	Mapper  addressmapping.Mapper

	ReadLatency  int
	WriteLatency int

	TRCD int
	TRPA int
	TWR  int
	TMRD int
	TRFC int

	MinActivateGap int

	RefreshInterval  int
	RefreshThreshold int

	SelfRefreshExit int
	PowerDownExit   int
	DLLLockWait     int

	// AutoSelfRefreshIdle enters self-refresh after this many consecutive idle
	// ticks with an empty command queue. 0 disables it.
	AutoSelfRefreshIdle int

	// ReturnMargin is the return-queue space kept free on top of the words a
	// read will push.
	ReturnMargin int

	EMR1DLLOn  uint32
	EMR1DLLOff uint32

	ODT      bool
	DataMask uint64
}

// Queues are the admission queues the engine drains and fills.
type Queues struct {
	Commands  queueing.Buffer[Command]
	WriteData queueing.Buffer[uint64]
	Returns   queueing.Buffer[ReturnEntry]
}

// Input is what the engine samples at the start of a tick.
type Input struct {
	Ready bool

	// CapturedWord is the ring-buffer slot selected by the read pointer the
	// engine output in the previous tick.
	CapturedWord uint64

	SelfRefreshRequest bool
	SelfRefreshExit    bool
	PowerDownRequest   bool
	PowerDownExit      bool
	DLLRequest         bool
	DLLEnable          bool
}

// Output is what the engine drives in a tick.
type Output struct {
	Kind      signal.CommandKind
	Rank      int
	Bank      int
	Address   uint32
	Select    bool
	Broadcast bool

	CKE bool
	ODT bool

	DQ        uint64
	DQSDriven bool
	DQS       bool
	DM        bool

	Listen      bool
	ReadPointer int
}

// Status is a snapshot of the engine for debugging and monitoring.
type Status struct {
	State             State
	Opcode            Opcode
	SubBurst          int
	RefreshCounter    int
	ActivateGap       int
	DLLBusy           bool
	SelfRefreshActive bool
	PowerDownActive   bool
}

// Engine is the transaction state machine. It is advanced by exactly one Step
// per tick.
type Engine struct {
	cfg     Config
	channel *org.Channel
	queues  Queues

	state State
	wait  int

	refreshCounter int
	activateGap    int
	idleTicks      int

	cmd       Command
	numBursts int
	subBurst  int
	burstBase uint64
	target    org.Target
	column    uint64
	beat      int

	srRequest  bool
	srExit     bool
	pdRequest  bool
	pdExit     bool
	dllRequest bool
	dllEnable  bool

	autoSelfRefresh   bool
	selfRefreshActive bool
	powerDownActive   bool
	dllBusy           bool
}

// NewEngine creates an engine in the Idle state.
func NewEngine(cfg Config, channel *org.Channel, queues Queues) *Engine {
	e := &Engine{
		cfg:     cfg,
		channel: channel,
		queues:  queues,
	}
	e.Reset()

	return e
}

// Reset returns the engine to Idle with fresh counters, no latched request
// and all banks closed.
func (e *Engine) Reset() {
	e.channel.Reset()

	*e = Engine{
		cfg:            e.cfg,
		channel:        e.channel,
		queues:         e.queues,
		refreshCounter: e.cfg.RefreshInterval,
	}
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	return Status{
		State:             e.state,
		Opcode:            e.cmd.Opcode,
		SubBurst:          e.subBurst,
		RefreshCounter:    e.refreshCounter,
		ActivateGap:       e.activateGap,
		DLLBusy:           e.dllBusy,
		SelfRefreshActive: e.selfRefreshActive,
		PowerDownActive:   e.powerDownActive,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Step advances the engine by one tick.
func (e *Engine) Step(in Input) Output {
	out := Output{CKE: true}

	if !in.Ready {
		out.ReadPointer = e.beat
		return out
	}

	e.latchRequests(in)
	e.countRefresh()

	switch e.state {
	case StateIdle:
		e.idle()
	case StateFetchCommand:
		e.fetch()
	case StateActivate, StateBlockActivate:
		e.activate(&out)
	case StateWaitRowToColumn:
		if e.countDown() {
			e.state = e.issueState()
		}
	case StateIssueRead, StateBlockIssueRead:
		e.issueRead(&out)
	case StateScalarReadWait:
		if e.countDown() {
			out.Listen = true
			e.beat = 0
			e.state = StateScalarReadDrain
		}
	case StateScalarReadDrain:
		e.drain(in.CapturedWord)
	case StateIssueWrite, StateBlockIssueWrite:
		e.issueWrite(&out)
	case StateScalarWriteWait:
		out.ODT = e.cfg.ODT
		if e.countDown() {
			e.state = StateWriteDataBurst
		}
	case StateWriteDataBurst:
		e.writeBeat(&out)
	case StateWriteRecoveryWait:
		if e.countDown() {
			e.finishBurst()
		}
	default:
		e.maintenance(&out)
	}

	out.ReadPointer = e.beat

	e.channel.Tick()
	if e.activateGap > 0 {
		e.activateGap--
	}

	return out
}

func (e *Engine) latchRequests(in Input) {
	if in.SelfRefreshRequest && !e.inSelfRefreshProgram() {
		e.srRequest = true
	}

	if in.SelfRefreshExit && e.inSelfRefreshProgram() {
		e.srExit = true
	}

	if in.PowerDownRequest && !e.inPowerDownProgram() {
		e.pdRequest = true
	}

	if in.PowerDownExit && e.inPowerDownProgram() {
		e.pdExit = true
	}

	if in.DLLRequest {
		e.dllRequest = true
		e.dllEnable = in.DLLEnable
	}
}

func (e *Engine) inSelfRefreshProgram() bool {
	return e.state >= StateSelfRefreshPrecharge &&
		e.state <= StateSelfRefreshIdle
}

func (e *Engine) inPowerDownProgram() bool {
	return e.state >= StatePowerDownPrecharge && e.state <= StatePowerDownIdle
}

func (e *Engine) countRefresh() {
	if e.state.inRefresh() || e.state.inSelfRefresh() {
		return
	}

	if e.refreshCounter > 0 {
		e.refreshCounter--
	}
}

func (e *Engine) refreshDue() bool {
	return e.refreshCounter < e.cfg.RefreshThreshold
}

// countDown consumes one tick of the state wait counter and reports whether
// the wait is over.
func (e *Engine) countDown() bool {
	if e.wait > 0 {
		e.wait--
	}

	return e.wait == 0
}

func (e *Engine) startWait(s State, cycles int) {
	e.state = s
	e.wait = max(cycles, 0)
}

func (e *Engine) idle() {
	if e.queues.Commands.Size() == 0 {
		e.idleTicks++
	} else {
		e.idleTicks = 0
	}

	autoSR := e.cfg.AutoSelfRefreshIdle > 0 &&
		e.idleTicks >= e.cfg.AutoSelfRefreshIdle

	switch {
	case e.srRequest || autoSR:
		e.autoSelfRefresh = !e.srRequest
		e.srRequest = false
		e.srExit = false
		e.idleTicks = 0
		e.state = StateSelfRefreshPrecharge
	case e.dllRequest && e.queues.Commands.Size() == 0 && !e.refreshDue():
		e.dllRequest = false
		e.dllBusy = true
		e.state = StateDllPrecharge
	case e.pdRequest:
		e.pdRequest = false
		e.pdExit = false
		e.state = StatePowerDownPrecharge
	case e.refreshDue():
		e.state = StateRefreshPrecharge
	case e.canFetch():
		e.state = StateFetchCommand
	}
}

// canFetch tells if the command at the head of the queue can run to
// completion without overflowing the return queue or starving the write
// burst.
func (e *Engine) canFetch() bool {
	cmd, ok := e.queues.Commands.Peek()
	if !ok {
		return false
	}

	op := DecodeOpcode(uint8(cmd.Opcode))

	switch {
	case op.IsRead():
		return e.queues.Returns.Free() >= cmd.NumWords()+e.cfg.ReturnMargin
	case op.IsWrite():
		return e.queues.WriteData.Size() >= cmd.NumWords()
	default:
		return true
	}
}

func (e *Engine) fetch() {
	cmd, _ := e.queues.Commands.Pop()
	cmd.Opcode = DecodeOpcode(uint8(cmd.Opcode))

	if !cmd.Opcode.IsRead() && !cmd.Opcode.IsWrite() {
		e.state = StateIdle
		return
	}

	if cmd.Rank < 0 || cmd.Rank >= e.cfg.NumRank {
		cmd.Rank = ((cmd.Rank % e.cfg.NumRank) + e.cfg.NumRank) % e.cfg.NumRank
	}

	e.cmd = cmd
	e.numBursts = cmd.NumBursts()
	e.subBurst = 0
	e.burstBase = cmd.Address &^ (BurstLength - 1)
	e.prepareBurst()

	if cmd.Opcode.IsBlock() {
		e.state = StateBlockActivate
	} else {
		e.state = StateActivate
	}
}

func (e *Engine) burstAddress() uint64 {
	return e.burstBase + uint64(e.subBurst*BurstLength)
}

func (e *Engine) prepareBurst() {
	loc := e.cfg.Mapper.Map(e.burstAddress())

	e.target = org.Target{
		Rank: e.cmd.Rank,
		Bank: int(loc.Bank),
		Row:  loc.Row,
	}
	e.column = loc.Column
}

func (e *Engine) lastBurst() bool {
	return e.subBurst == e.numBursts-1
}

func (e *Engine) issueState() State {
	switch {
	case e.cmd.Opcode == OpBlockRead:
		return StateBlockIssueRead
	case e.cmd.Opcode == OpBlockWrite:
		return StateBlockIssueWrite
	case e.cmd.Opcode.IsRead():
		return StateIssueRead
	default:
		return StateIssueWrite
	}
}

func (e *Engine) activate(out *Output) {
	bank := e.channel.Bank(e.target.Rank, e.target.Bank)

	if bank.Open && bank.OpenRow == e.target.Row {
		e.state = e.issueState()
		return
	}

	if bank.Open {
		if e.channel.CanIssue(signal.CmdKindPrecharge, e.target) {
			e.drive(out, signal.CmdKindPrecharge, e.target, 0)
		}

		return
	}

	if e.activateGap > 0 ||
		!e.channel.CanIssue(signal.CmdKindActivate, e.target) {
		return
	}

	e.drive(out, signal.CmdKindActivate, e.target, uint32(e.target.Row))
	e.activateGap = e.cfg.MinActivateGap
	e.startWait(StateWaitRowToColumn, e.cfg.TRCD-1)
}

func (e *Engine) issueRead(out *Output) {
	kind := signal.CmdKindRead
	if e.lastBurst() {
		kind = signal.CmdKindReadPrecharge
	}

	if !e.channel.CanIssue(kind, e.target) {
		return
	}

	addr := signal.EncodeColumn(e.column, kind.HasAutoPrecharge())
	e.drive(out, kind, e.target, addr)
	e.startWait(StateScalarReadWait, e.cfg.ReadLatency)
}

func (e *Engine) drain(word uint64) {
	e.queues.Returns.TryPush(ReturnEntry{
		Address: e.burstAddress() + uint64(e.beat),
		Data:    word & e.cfg.DataMask,
	})

	e.beat++
	if e.beat == BurstLength {
		e.beat = 0
		e.finishBurst()
	}
}

func (e *Engine) issueWrite(out *Output) {
	kind := signal.CmdKindWrite
	if e.lastBurst() {
		kind = signal.CmdKindWritePrecharge
	}

	if !e.channel.CanIssue(kind, e.target) {
		return
	}

	addr := signal.EncodeColumn(e.column, kind.HasAutoPrecharge())
	e.drive(out, kind, e.target, addr)
	out.ODT = e.cfg.ODT

	e.beat = 0
	e.startWait(StateScalarWriteWait, e.cfg.WriteLatency-1)
}

func (e *Engine) writeBeat(out *Output) {
	word, ok := e.queues.WriteData.Pop()

	out.DQ = word & e.cfg.DataMask
	out.DQSDriven = true
	out.DQS = e.beat%2 == 0
	out.DM = !ok
	out.ODT = e.cfg.ODT

	e.beat++
	if e.beat == BurstLength {
		e.beat = 0
		e.startWait(StateWriteRecoveryWait, e.cfg.TWR)
	}
}

func (e *Engine) finishBurst() {
	if e.lastBurst() {
		e.state = StateIdle
		return
	}

	e.subBurst++
	e.prepareBurst()
	e.state = StateBlockActivate
}

func (e *Engine) drive(
	out *Output,
	kind signal.CommandKind,
	t org.Target,
	addr uint32,
) {
	out.Kind = kind
	out.Rank = t.Rank
	out.Bank = t.Bank
	out.Address = addr
	out.Select = true
	out.Broadcast = t.AllRanks

	e.channel.StartCommand(kind, t)
}

var allRanks = org.Target{AllRanks: true}

// prechargeAll issues a precharge-all to every rank once all banks allow it
// and reports whether it did.
func (e *Engine) prechargeAll(out *Output) bool {
	if !e.channel.CanIssue(signal.CmdKindPrechargeAll, allRanks) {
		return false
	}

	e.drive(out, signal.CmdKindPrechargeAll, allRanks, signal.AutoPrechargeBit)

	return true
}

func (e *Engine) maintenance(out *Output) {
	switch e.state {
	case StateRefreshPrecharge:
		if e.prechargeAll(out) {
			e.startWait(StateRefreshWait, e.cfg.TRPA-1)
		}
	case StateRefreshWait:
		if e.countDown() {
			e.state = StateRefreshIssue
		}
	case StateRefreshIssue:
		e.refresh(out)
	case StateRefreshIdle:
		if e.countDown() {
			e.state = StateIdle
		}
	case StateDllPrecharge:
		if e.prechargeAll(out) {
			e.startWait(StateDllWait, e.cfg.TRPA-1)
		}
	case StateDllWait:
		if e.countDown() {
			e.state = StateDllWrite
		}
	case StateDllWrite:
		e.writeDLL(out)
	case StateDllWait2:
		if e.countDown() {
			e.startWait(StateDllLockWait, e.cfg.DLLLockWait)
		}
	case StateDllLockWait:
		if e.countDown() {
			e.dllBusy = false
			e.state = StateIdle
		}
	default:
		e.lowPower(out)
	}
}

func (e *Engine) refresh(out *Output) {
	if !e.channel.CanIssue(signal.CmdKindAutoRefresh, allRanks) {
		return
	}

	e.drive(out, signal.CmdKindAutoRefresh, allRanks, 0)
	e.refreshCounter = e.cfg.RefreshInterval
	e.startWait(StateRefreshIdle, e.cfg.TRFC-1)
}

func (e *Engine) writeDLL(out *Output) {
	if !e.channel.CanIssue(signal.CmdKindModeRegisterSet, allRanks) {
		return
	}

	value := e.cfg.EMR1DLLOff
	if e.dllEnable {
		value = e.cfg.EMR1DLLOn
	}

	t := allRanks
	t.Bank = signal.ExtModeReg1
	e.drive(out, signal.CmdKindModeRegisterSet, t, value)
	e.startWait(StateDllWait2, e.cfg.TMRD-1)
}

func (e *Engine) lowPower(out *Output) {
	switch e.state {
	case StateSelfRefreshPrecharge:
		if e.prechargeAll(out) {
			e.startWait(StateSelfRefreshWait, e.cfg.TRPA-1)
		}
	case StateSelfRefreshWait:
		if e.countDown() {
			e.state = StateSelfRefreshEnter
		}
	case StateSelfRefreshEnter:
		if !e.channel.CanIssue(signal.CmdKindSelfRefreshEntry, allRanks) {
			return
		}

		e.drive(out, signal.CmdKindSelfRefreshEntry, allRanks, 0)
		out.CKE = false
		e.selfRefreshActive = true
		e.state = StateSelfRefreshIdle
	case StateSelfRefreshIdle:
		out.CKE = false
		out.Broadcast = true

		wake := e.autoSelfRefresh && e.queues.Commands.Size() > 0
		if e.srExit || wake {
			e.srExit = false
			e.startWait(StateSelfRefreshExitWait, e.cfg.SelfRefreshExit)
		}
	case StateSelfRefreshExitWait:
		out.Broadcast = true
		if e.countDown() {
			e.selfRefreshActive = false
			e.autoSelfRefresh = false
			e.refreshCounter = e.cfg.RefreshInterval
			e.state = StateIdle
		}
	case StatePowerDownPrecharge:
		if e.prechargeAll(out) {
			e.startWait(StatePowerDownWait, e.cfg.TRPA-1)
		}
	case StatePowerDownWait:
		if e.countDown() {
			e.powerDownActive = true
			e.state = StatePowerDownIdle
		}
	case StatePowerDownIdle:
		out.CKE = false
		out.Broadcast = true

		if e.pdExit {
			e.pdExit = false
			e.startWait(StatePowerDownExitWait, e.cfg.PowerDownExit)
		}
	case StatePowerDownExitWait:
		out.Broadcast = true
		if e.countDown() {
			e.powerDownActive = false
			e.state = StateIdle
		}
	}
}
