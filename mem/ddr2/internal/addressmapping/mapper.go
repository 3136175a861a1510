// Package addressmapping slices a logical word address into the row, bank and
// column that the device is addressed with.
package addressmapping

import "fmt"

// Location is a decomposed word address.
type Location struct {
	Row    uint64
	Bank   uint64
	Column uint64
}

// Mapper converts between logical word addresses and device locations.
type Mapper interface {
	Map(addr uint64) Location
	Address(loc Location) uint64
	AddressBits() int
}

// Builder builds bit-slicing mappers. The column occupies the low bits, then
// the bank, then the row.
type Builder struct {
	rowBits  int
	bankBits int
	colBits  int
}

// MakeBuilder creates a builder with a 13-bit row, 3-bit bank, 10-bit column
// geometry.
func MakeBuilder() Builder {
	return Builder{
		rowBits:  13,
		bankBits: 3,
		colBits:  10,
	}
}

// WithRowBits sets the number of row address bits.
func (b Builder) WithRowBits(n int) Builder {
	b.rowBits = n
	return b
}

// WithBankBits sets the number of bank address bits.
func (b Builder) WithBankBits(n int) Builder {
	b.bankBits = n
	return b
}

// WithColBits sets the number of column address bits.
func (b Builder) WithColBits(n int) Builder {
	b.colBits = n
	return b
}

// Build creates the mapper.
func (b Builder) Build() Mapper {
	if b.rowBits <= 0 || b.bankBits < 0 || b.colBits <= 0 {
		panic(fmt.Sprintf("invalid address geometry: row %d, bank %d, col %d",
			b.rowBits, b.bankBits, b.colBits))
	}

	if b.rowBits+b.bankBits+b.colBits > 64 {
		panic("address geometry wider than 64 bits")
	}

	return bitSliceMapper{
		bankPos:  uint(b.colBits),
		rowPos:   uint(b.colBits + b.bankBits),
		colMask:  (uint64(1) << uint(b.colBits)) - 1,
		bankMask: (uint64(1) << uint(b.bankBits)) - 1,
		rowMask:  (uint64(1) << uint(b.rowBits)) - 1,
		width:    b.rowBits + b.bankBits + b.colBits,
	}
}

type bitSliceMapper struct {
	bankPos  uint
	rowPos   uint
	colMask  uint64
	bankMask uint64
	rowMask  uint64
	width    int
}

// Map decomposes addr. Bits above the configured width are ignored.
func (m bitSliceMapper) Map(addr uint64) Location {
	return Location{
		Row:    (addr >> m.rowPos) & m.rowMask,
		Bank:   (addr >> m.bankPos) & m.bankMask,
		Column: addr & m.colMask,
	}
}

func (m bitSliceMapper) Address(loc Location) uint64 {
	return (loc.Row&m.rowMask)<<m.rowPos |
		(loc.Bank&m.bankMask)<<m.bankPos |
		loc.Column&m.colMask
}

func (m bitSliceMapper) AddressBits() int {
	return m.width
}
