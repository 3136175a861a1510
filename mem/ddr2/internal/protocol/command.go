package protocol

import "fmt"

// Opcode is the operation a host command requests.
type Opcode uint8

// The opcodes understood by the engine. Any other encoding decodes to
// OpReserved and is executed as a no-op.
const (
	OpNoOp Opcode = iota
	OpScalarRead
	OpScalarWrite
	OpBlockRead
	OpBlockWrite
	OpReserved
)

func (o Opcode) String() string {
	switch o {
	case OpNoOp:
		return "NoOp"
	case OpScalarRead:
		return "ScalarRead"
	case OpScalarWrite:
		return "ScalarWrite"
	case OpBlockRead:
		return "BlockRead"
	case OpBlockWrite:
		return "BlockWrite"
	case OpReserved:
		return "Reserved"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// DecodeOpcode maps a raw host encoding to an opcode.
func DecodeOpcode(raw uint8) Opcode {
	if Opcode(raw) < OpReserved {
		return Opcode(raw)
	}

	return OpReserved
}

// IsRead returns true for scalar and block reads.
func (o Opcode) IsRead() bool {
	return o == OpScalarRead || o == OpBlockRead
}

// IsWrite returns true for scalar and block writes.
func (o Opcode) IsWrite() bool {
	return o == OpScalarWrite || o == OpBlockWrite
}

// IsBlock returns true for the multi-burst opcodes.
func (o Opcode) IsBlock() bool {
	return o == OpBlockRead || o == OpBlockWrite
}

// BurstLength is the number of words moved by one column command.
const BurstLength = 8

// MaxSubBursts is the largest number of bursts a block command can carry.
const MaxSubBursts = 4

// Command is a host request as it sits in the command queue.
type Command struct {
	Opcode  Opcode
	Size    int
	Address uint64
	Rank    int
}

// NumBursts returns how many 8-word bursts the command moves. Block sizes
// are clamped into 1..MaxSubBursts; scalar commands always move one burst.
func (c Command) NumBursts() int {
	if !c.Opcode.IsBlock() {
		return 1
	}

	return min(max(c.Size, 1), MaxSubBursts)
}

// NumWords returns the number of data words the command moves.
func (c Command) NumWords() int {
	return c.NumBursts() * BurstLength
}

// ReturnEntry is one word of read data tagged with its word address.
type ReturnEntry struct {
	Address uint64
	Data    uint64
}
