// Package rankfanout turns the controller's single chip-select line into one
// select line per physical rank.
package rankfanout

import "fmt"

// MaxRanks is the widest select vector supported.
const MaxRanks = 32

// FanOut maps the select line and a logical rank index onto a one-hot
// vector.
type FanOut struct {
	numRank int
	all     uint32
}

// New creates a fan-out for numRank ranks.
func New(numRank int) FanOut {
	if numRank <= 0 || numRank > MaxRanks {
		panic(fmt.Sprintf("rank count %d out of range 1..%d", numRank, MaxRanks))
	}

	all := uint32(1<<uint(numRank)) - 1
	if numRank == MaxRanks {
		all = ^uint32(0)
	}

	return FanOut{numRank: numRank, all: all}
}

// NumRank returns the number of select lines.
func (f FanOut) NumRank() int {
	return f.numRank
}

// Select computes the select vector. Before the device is ready, or when the
// engine marks a command as rank-wide, every rank is selected so that all
// devices see the same program. Otherwise only the latched rank is selected.
// A rank index beyond the configured count selects nothing.
func (f FanOut) Select(selectLine, ready, broadcast bool, rank int) uint32 {
	if !selectLine {
		return 0
	}

	if !ready || broadcast {
		return f.all
	}

	if rank < 0 || rank >= f.numRank {
		return 0
	}

	return 1 << uint(rank)
}
