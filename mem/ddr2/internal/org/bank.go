package org

import (
	"fmt"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
)

// A Bank is a DRAM bank as seen from the controller: whether a row is open,
// which one, and how long until each kind of command becomes legal.
type Bank struct {
	Open    bool
	OpenRow uint64

	cyclesToCmdAvailable [signal.NumCmdKind]int
}

// CanIssue returns true if a command of the given kind may be issued to the
// bank in the current cycle.
func (b *Bank) CanIssue(kind signal.CommandKind) bool {
	return b.cyclesToCmdAvailable[kind] == 0
}

// CyclesUntil returns the number of cycles until the given kind becomes legal.
func (b *Bank) CyclesUntil(kind signal.CommandKind) int {
	return b.cyclesToCmdAvailable[kind]
}

// UpdateTiming makes sure that a command of cmdKind cannot be issued within
// the next cycleNeeded cycles. An existing longer restriction is kept.
func (b *Bank) UpdateTiming(cmdKind signal.CommandKind, cycleNeeded int) {
	if b.cyclesToCmdAvailable[cmdKind] < cycleNeeded {
		b.cyclesToCmdAvailable[cmdKind] = cycleNeeded
	}
}

// Tick counts all the restrictions down by one cycle. Counters stop at zero.
func (b *Bank) Tick() {
	for i := range b.cyclesToCmdAvailable {
		if b.cyclesToCmdAvailable[i] > 0 {
			b.cyclesToCmdAvailable[i]--
		}
	}
}

func (b *Bank) startCommand(kind signal.CommandKind, row uint64) {
	switch kind {
	case signal.CmdKindActivate:
		if b.Open {
			panic(fmt.Sprintf("activating bank with row %d open", b.OpenRow))
		}

		b.Open = true
		b.OpenRow = row
	case signal.CmdKindRead, signal.CmdKindWrite:
		b.mustBeOpen()
	case signal.CmdKindReadPrecharge, signal.CmdKindWritePrecharge:
		b.mustBeOpen()
		b.Open = false
	case signal.CmdKindPrecharge, signal.CmdKindPrechargeAll:
		b.Open = false
	}
}

func (b *Bank) mustBeOpen() {
	if !b.Open {
		panic("column access to a closed bank")
	}
}
