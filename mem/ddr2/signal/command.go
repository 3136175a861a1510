// Package signal defines what travels on the device-facing bus of the DDR2
// controller, one value per tick.
package signal

// CommandKind is the logical command intent driven onto the command bus.
type CommandKind int

// A list of supported command kinds.
const (
	CmdKindNoOp CommandKind = iota
	CmdKindActivate
	CmdKindRead
	CmdKindReadPrecharge
	CmdKindWrite
	CmdKindWritePrecharge
	CmdKindPrecharge
	CmdKindPrechargeAll
	CmdKindAutoRefresh
	CmdKindSelfRefreshEntry
	CmdKindModeRegisterSet
	NumCmdKind
)

var cmdKindNames = [NumCmdKind]string{
	"NOP",
	"ACT",
	"RD",
	"RDA",
	"WR",
	"WRA",
	"PRE",
	"PREA",
	"REF",
	"SRE",
	"MRS",
}

func (k CommandKind) String() string {
	if k < 0 || k >= NumCmdKind {
		return "UNKNOWN"
	}

	return cmdKindNames[k]
}

// IsNoOpClass returns true for commands that do not change the state of any
// bank.
func (k CommandKind) IsNoOpClass() bool {
	return k == CmdKindNoOp
}

// IsRead returns true for both read flavors.
func (k CommandKind) IsRead() bool {
	return k == CmdKindRead || k == CmdKindReadPrecharge
}

// IsWrite returns true for both write flavors.
func (k CommandKind) IsWrite() bool {
	return k == CmdKindWrite || k == CmdKindWritePrecharge
}

// IsColumn returns true for read and write commands.
func (k CommandKind) IsColumn() bool {
	return k.IsRead() || k.IsWrite()
}

// HasAutoPrecharge returns true if the column command closes the row when the
// burst finishes.
func (k CommandKind) HasAutoPrecharge() bool {
	return k == CmdKindReadPrecharge || k == CmdKindWritePrecharge
}

// Strobes are the row strobe, column strobe and write enable lines, in their
// logical (asserted = true) sense.
type Strobes struct {
	RAS bool
	CAS bool
	WE  bool
}

// Strobes returns the command truth table entry of the command kind.
func (k CommandKind) Strobes() Strobes {
	switch k {
	case CmdKindActivate:
		return Strobes{RAS: true}
	case CmdKindRead, CmdKindReadPrecharge:
		return Strobes{CAS: true}
	case CmdKindWrite, CmdKindWritePrecharge:
		return Strobes{CAS: true, WE: true}
	case CmdKindPrecharge, CmdKindPrechargeAll:
		return Strobes{RAS: true, WE: true}
	case CmdKindAutoRefresh, CmdKindSelfRefreshEntry:
		return Strobes{RAS: true, CAS: true}
	case CmdKindModeRegisterSet:
		return Strobes{RAS: true, CAS: true, WE: true}
	default:
		return Strobes{}
	}
}

// AutoPrechargeBit is the address line that requests auto-precharge on column
// commands and selects all banks on precharge.
const AutoPrechargeBit = 1 << 10

// EncodeColumn places a column address on the address bus, skipping the
// auto-precharge line.
func EncodeColumn(col uint64, autoPrecharge bool) uint32 {
	low := uint32(col) & (AutoPrechargeBit - 1)
	high := uint32(col>>10) << 11

	v := low | high
	if autoPrecharge {
		v |= AutoPrechargeBit
	}

	return v
}

// DecodeColumn recovers the column address from the address bus.
func DecodeColumn(addr uint32) uint64 {
	low := addr & (AutoPrechargeBit - 1)
	high := addr >> 11

	return uint64(high)<<10 | uint64(low)
}
