// Package initseq produces the DDR2 power-up and mode-register program.
package initseq

import (
	"fmt"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
)

// State is a step of the power-up program.
type State int

// The states of the sequencer, in program order.
const (
	StateIdle State = iota
	StatePowerUpWait
	StateClockEnableAssert
	StatePrechargeAll
	StateRowPrechargeWait
	StateEMRS2
	StateEMRS2Wait
	StateEMRS3
	StateEMRS3Wait
	StateEMRS1Init
	StateEMRS1InitWait
	StateMRSDLLReset
	StateMRSDLLResetWait
	StateAutoRefresh1
	StateAutoRefresh1Wait
	StateAutoRefresh2
	StateAutoRefresh2Wait
	StateMRSFinal
	StateMRSFinalWait
	StateEMRS1Final
	StateEMRS1FinalWait
	StateCalibration
	StateFinalPrecharge
	StateFinalPrechargeWait
	StateReady
	numState
)

var stateNames = [numState]string{
	"Idle",
	"PowerUpWait",
	"ClockEnableAssert",
	"PrechargeAll",
	"RowPrechargeWait",
	"EMRS2",
	"EMRS2Wait",
	"EMRS3",
	"EMRS3Wait",
	"EMRS1Init",
	"EMRS1InitWait",
	"MRSDLLReset",
	"MRSDLLResetWait",
	"AutoRefresh1",
	"AutoRefresh1Wait",
	"AutoRefresh2",
	"AutoRefresh2Wait",
	"MRSFinal",
	"MRSFinalWait",
	"EMRS1Final",
	"EMRS1FinalWait",
	"Calibration",
	"FinalPrecharge",
	"FinalPrechargeWait",
	"Ready",
}

func (s State) String() string {
	if s < 0 || s >= numState {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// Config holds the cycle counts and register values of the program.
type Config struct {
	PowerUpWait      int
	ClockEnableWait  int
	PrechargeWait    int
	ModeRegisterWait int
	RefreshWait      int

	// CalibrationWait covers OCD/ZQ calibration and DLL settling. The state is
	// skipped when it is 0.
	CalibrationWait int

	EMR2       uint32
	EMR3       uint32
	EMR1Init   uint32
	MRDLLReset uint32
	MRFinal    uint32
	EMR1Final  uint32
}

// Output is what the sequencer drives in one tick.
type Output struct {
	Kind    signal.CommandKind
	Bank    int
	Address uint32
	Select  bool
	CKE     bool
	Ready   bool
}

type phase struct {
	kind    signal.CommandKind
	bank    int
	address uint32
	cke     bool
	cycles  int
}

// Sequencer is a one-shot linear state machine. It holds each state for the
// configured number of ticks and moves on exactly when the counter reaches
// zero.
type Sequencer struct {
	phases    [numState]phase
	state     State
	remaining int
}

// New creates a sequencer in the Idle state.
func New(c Config) *Sequencer {
	s := &Sequencer{}

	cmd := func(kind signal.CommandKind, bank int, addr uint32) phase {
		return phase{kind: kind, bank: bank, address: addr, cke: true, cycles: 1}
	}
	wait := func(spacing int) phase {
		return phase{kind: signal.CmdKindNoOp, cke: true, cycles: spacing - 1}
	}

	precharge := cmd(signal.CmdKindPrechargeAll, 0, signal.AutoPrechargeBit)
	refresh := cmd(signal.CmdKindAutoRefresh, 0, 0)
	mrs := signal.CmdKindModeRegisterSet

	s.phases = [numState]phase{
		StateIdle:               {kind: signal.CmdKindNoOp},
		StatePowerUpWait:        {kind: signal.CmdKindNoOp, cycles: c.PowerUpWait},
		StateClockEnableAssert:  {kind: signal.CmdKindNoOp, cke: true, cycles: c.ClockEnableWait},
		StatePrechargeAll:       precharge,
		StateRowPrechargeWait:   wait(c.PrechargeWait),
		StateEMRS2:              cmd(mrs, signal.ExtModeReg2, c.EMR2),
		StateEMRS2Wait:          wait(c.ModeRegisterWait),
		StateEMRS3:              cmd(mrs, signal.ExtModeReg3, c.EMR3),
		StateEMRS3Wait:          wait(c.ModeRegisterWait),
		StateEMRS1Init:          cmd(mrs, signal.ExtModeReg1, c.EMR1Init),
		StateEMRS1InitWait:      wait(c.ModeRegisterWait),
		StateMRSDLLReset:        cmd(mrs, signal.ModeRegister, c.MRDLLReset),
		StateMRSDLLResetWait:    wait(c.ModeRegisterWait),
		StateAutoRefresh1:       refresh,
		StateAutoRefresh1Wait:   wait(c.RefreshWait),
		StateAutoRefresh2:       refresh,
		StateAutoRefresh2Wait:   wait(c.RefreshWait),
		StateMRSFinal:           cmd(mrs, signal.ModeRegister, c.MRFinal),
		StateMRSFinalWait:       wait(c.ModeRegisterWait),
		StateEMRS1Final:         cmd(mrs, signal.ExtModeReg1, c.EMR1Final),
		StateEMRS1FinalWait:     wait(c.ModeRegisterWait),
		StateCalibration:        {kind: signal.CmdKindNoOp, cke: true, cycles: c.CalibrationWait},
		StateFinalPrecharge:     precharge,
		StateFinalPrechargeWait: wait(c.PrechargeWait),
		StateReady:              {kind: signal.CmdKindNoOp, cke: true},
	}

	return s
}

// State returns the current state.
func (s *Sequencer) State() State {
	return s.state
}

// Ready returns true once the program has completed.
func (s *Sequencer) Ready() bool {
	return s.state == StateReady
}

// Step advances one tick. reset returns the sequencer to Idle; initialize
// starts the program when Idle. Both in the same tick restart the program.
// The returned output belongs to the state the sequencer was in at the start
// of the tick, which is Idle after a reset.
func (s *Sequencer) Step(reset, initialize bool) Output {
	if reset {
		s.state = StateIdle
		s.remaining = 0

		out := s.output()
		if initialize {
			s.enter(StatePowerUpWait)
		}

		return out
	}

	out := s.output()

	switch s.state {
	case StateIdle:
		if initialize {
			s.enter(StatePowerUpWait)
		}
	case StateReady:
	default:
		s.remaining--
		if s.remaining <= 0 {
			s.enter(s.state + 1)
		}
	}

	return out
}

// enter moves to state, skipping over states that hold for zero ticks.
func (s *Sequencer) enter(state State) {
	for state < StateReady && s.phases[state].cycles <= 0 {
		state++
	}

	s.state = state
	s.remaining = s.phases[state].cycles
}

func (s *Sequencer) output() Output {
	p := s.phases[s.state]

	return Output{
		Kind:    p.kind,
		Bank:    p.bank,
		Address: p.address,
		Select:  p.kind != signal.CmdKindNoOp,
		CKE:     p.cke,
		Ready:   s.state == StateReady,
	}
}
