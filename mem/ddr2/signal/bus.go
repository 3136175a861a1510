package signal

import "fmt"

// BusState is everything the controller drives toward the devices during one
// tick.
type BusState struct {
	Cycle uint64

	// ChipSelect has bit i set if rank i is selected.
	ChipSelect uint32
	Kind       CommandKind
	Bank       int
	Address    uint32

	CKE bool
	ODT bool

	DQ        uint64
	DQSDriven bool
	DQS       bool
	DM        bool
}

// Selects returns true if rank is selected in this tick.
func (b BusState) Selects(rank int) bool {
	return b.ChipSelect&(1<<uint(rank)) != 0
}

// Strobes returns the row, column and write strobes of the command.
func (b BusState) Strobes() Strobes {
	if b.ChipSelect == 0 {
		return Strobes{}
	}

	return b.Kind.Strobes()
}

// EffectiveKind is the command as the devices see it. A command with no rank
// selected is a deselect, which the devices treat as NoOp.
func (b BusState) EffectiveKind() CommandKind {
	if b.ChipSelect == 0 {
		return CmdKindNoOp
	}

	return b.Kind
}

func (b BusState) String() string {
	return fmt.Sprintf("%d cs=%b %s ba=%d a=0x%x cke=%t",
		b.Cycle, b.ChipSelect, b.Kind, b.Bank, b.Address, b.CKE)
}

// DeviceOutput is what the selected devices drive back during one tick.
type DeviceOutput struct {
	DQSDriven bool
	DQS       bool
	DQ        uint64
}
