package ddr2

import "github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/protocol"

// Opcode is the operation a host command requests.
type Opcode = protocol.Opcode

// The host opcodes.
const (
	OpNoOp        = protocol.OpNoOp
	OpScalarRead  = protocol.OpScalarRead
	OpScalarWrite = protocol.OpScalarWrite
	OpBlockRead   = protocol.OpBlockRead
	OpBlockWrite  = protocol.OpBlockWrite
	OpReserved    = protocol.OpReserved
)

// BurstLength is the number of words one burst moves.
const BurstLength = protocol.BurstLength

// MaxBlockSize is the largest number of bursts in a block command.
const MaxBlockSize = protocol.MaxSubBursts

// Command is a host request. Address is a word address; reads and writes
// start at the burst-aligned address below it.
type Command = protocol.Command

// ReturnEntry is one word of read data with the word address it came from.
type ReturnEntry = protocol.ReturnEntry

// DecodeOpcode maps a raw host encoding to an opcode. Unknown encodings
// become OpReserved, which executes as a no-op.
func DecodeOpcode(raw uint8) Opcode {
	return protocol.DecodeOpcode(raw)
}
