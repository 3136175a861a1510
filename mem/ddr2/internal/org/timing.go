// Package org models the banks and ranks that the controller tracks, together
// with the minimum spacing between commands.
package org

import "github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"

// TimeTableEntry is an entry in the TimeTable.
type TimeTableEntry struct {
	NextCmdKind       signal.CommandKind
	MinCycleInBetween int
}

// TimeTable is a table that records the minimum number of cycles between any
// two kind of commands, indexed by the kind of the earlier command.
type TimeTable [][]TimeTableEntry

// MakeTimeTable creates a new TimeTable.
func MakeTimeTable() TimeTable {
	return make([][]TimeTableEntry, signal.NumCmdKind)
}

// Timing records all the timing-related parameters, grouped by which banks
// the earlier command affects.
type Timing struct {
	SameBank         TimeTable
	OtherBanksInRank TimeTable
	OtherRanks       TimeTable
}

// MakeTiming creates a Timing with empty tables.
func MakeTiming() Timing {
	return Timing{
		SameBank:         MakeTimeTable(),
		OtherBanksInRank: MakeTimeTable(),
		OtherRanks:       MakeTimeTable(),
	}
}

// MinCycleInBetween looks up how many cycles must pass between the two kinds
// in the given table. It returns 0 when the table has no entry.
func (t TimeTable) MinCycleInBetween(prev, next signal.CommandKind) int {
	for _, e := range t[prev] {
		if e.NextCmdKind == next {
			return e.MinCycleInBetween
		}
	}

	return 0
}
