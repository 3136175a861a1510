package org

import "github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"

// TimingParams are the device timing parameters in controller ticks. One
// data word moves per tick, so a burst occupies Burst ticks on the data bus.
type TimingParams struct {
	Burst int

	AL int
	RL int
	WL int

	TRCD int
	TRP  int
	TRPA int
	TRAS int
	TRC  int
	TRRD int
	TRTP int
	TWR  int
	TWTR int
	TRFC int
	TMRD int
}

// GenerateTiming fills the timing tables from the device parameters.
func GenerateTiming(p TimingParams) Timing {
	t := MakeTiming()

	readToPre := p.AL + p.Burst + max(p.TRTP, 2) - 2
	readToWrite := p.RL + p.Burst + 2 - p.WL
	writeToRead := p.WL + p.Burst + p.TWTR
	writeToPre := p.WL + p.Burst + p.TWR
	writeToReadOtherRank := max(p.WL+p.Burst-p.RL+2, 1)

	add := func(table TimeTable, prev signal.CommandKind, next signal.CommandKind, cycles int) {
		table[prev] = append(table[prev], TimeTableEntry{
			NextCmdKind:       next,
			MinCycleInBetween: cycles,
		})
	}

	rankWide := []signal.CommandKind{
		signal.CmdKindActivate,
		signal.CmdKindPrechargeAll,
		signal.CmdKindAutoRefresh,
		signal.CmdKindSelfRefreshEntry,
		signal.CmdKindModeRegisterSet,
	}

	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindRead, p.TRCD)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindReadPrecharge, p.TRCD)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindWrite, p.TRCD)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindWritePrecharge, p.TRCD)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindReadPrecharge, p.TRAS-readToPre)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindWritePrecharge, p.TRAS-writeToPre)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindPrecharge, p.TRAS)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindPrechargeAll, p.TRAS)
	add(t.SameBank, signal.CmdKindActivate, signal.CmdKindActivate, p.TRC)
	add(t.OtherBanksInRank, signal.CmdKindActivate, signal.CmdKindActivate, p.TRRD)

	for _, rd := range []signal.CommandKind{signal.CmdKindRead, signal.CmdKindReadPrecharge} {
		for _, next := range []signal.CommandKind{signal.CmdKindRead, signal.CmdKindReadPrecharge} {
			add(t.SameBank, rd, next, p.Burst)
			add(t.OtherBanksInRank, rd, next, p.Burst)
			add(t.OtherRanks, rd, next, p.Burst+1)
		}

		for _, next := range []signal.CommandKind{signal.CmdKindWrite, signal.CmdKindWritePrecharge} {
			add(t.SameBank, rd, next, readToWrite)
			add(t.OtherBanksInRank, rd, next, readToWrite)
			add(t.OtherRanks, rd, next, readToWrite+1)
		}

		add(t.SameBank, rd, signal.CmdKindPrechargeAll, readToPre)
	}

	add(t.SameBank, signal.CmdKindRead, signal.CmdKindPrecharge, readToPre)

	for _, next := range rankWide {
		add(t.SameBank, signal.CmdKindReadPrecharge, next, readToPre+p.TRP)
	}

	for _, wr := range []signal.CommandKind{signal.CmdKindWrite, signal.CmdKindWritePrecharge} {
		for _, next := range []signal.CommandKind{signal.CmdKindRead, signal.CmdKindReadPrecharge} {
			add(t.SameBank, wr, next, writeToRead)
			add(t.OtherBanksInRank, wr, next, writeToRead)
			add(t.OtherRanks, wr, next, writeToReadOtherRank)
		}

		for _, next := range []signal.CommandKind{signal.CmdKindWrite, signal.CmdKindWritePrecharge} {
			add(t.SameBank, wr, next, p.Burst)
			add(t.OtherBanksInRank, wr, next, p.Burst)
			add(t.OtherRanks, wr, next, p.Burst+1)
		}

		add(t.SameBank, wr, signal.CmdKindPrechargeAll, writeToPre)
	}

	add(t.SameBank, signal.CmdKindWrite, signal.CmdKindPrecharge, writeToPre)

	for _, next := range rankWide {
		add(t.SameBank, signal.CmdKindWritePrecharge, next, writeToPre+p.TRP)
	}

	for _, next := range rankWide {
		add(t.SameBank, signal.CmdKindPrecharge, next, p.TRP)
		add(t.SameBank, signal.CmdKindPrechargeAll, next, p.TRPA)
		add(t.SameBank, signal.CmdKindAutoRefresh, next, p.TRFC)
		add(t.SameBank, signal.CmdKindModeRegisterSet, next, p.TMRD)
	}

	return t
}
