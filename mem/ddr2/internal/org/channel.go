package org

import "github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"

// Target names what a command addresses. Rank-wide commands ignore Bank and
// Row. AllRanks applies the command to every rank at once.
type Target struct {
	Rank     int
	Bank     int
	Row      uint64
	AllRanks bool
}

// IsRankWide returns true for commands that address every bank of a rank.
func IsRankWide(kind signal.CommandKind) bool {
	switch kind {
	case signal.CmdKindPrechargeAll,
		signal.CmdKindAutoRefresh,
		signal.CmdKindSelfRefreshEntry,
		signal.CmdKindModeRegisterSet:
		return true
	default:
		return false
	}
}

// Channel is the table of all banks behind one command bus, indexed by
// [rank][bank].
type Channel struct {
	Banks  [][]*Bank
	Timing Timing
}

// NewChannel creates a channel with all banks closed and no pending timing
// restriction.
func NewChannel(numRank, numBank int, timing Timing) *Channel {
	c := &Channel{
		Banks:  make([][]*Bank, numRank),
		Timing: timing,
	}

	for r := range c.Banks {
		c.Banks[r] = make([]*Bank, numBank)
		for b := range c.Banks[r] {
			c.Banks[r][b] = &Bank{}
		}
	}

	return c
}

// Bank returns the bank at the given position.
func (c *Channel) Bank(rank, bank int) *Bank {
	return c.Banks[rank][bank]
}

// CanIssue returns true if a command of the kind may be issued to the target
// in the current cycle.
func (c *Channel) CanIssue(kind signal.CommandKind, t Target) bool {
	if !IsRankWide(kind) {
		return c.Banks[t.Rank][t.Bank].CanIssue(kind)
	}

	for r := range c.Banks {
		if !t.AllRanks && r != t.Rank {
			continue
		}

		for _, b := range c.Banks[r] {
			if !b.CanIssue(kind) {
				return false
			}
		}
	}

	return true
}

// AnyOpen returns true if any bank of the target rank (or of any rank when
// AllRanks is set) has an open row.
func (c *Channel) AnyOpen(t Target) bool {
	for r := range c.Banks {
		if !t.AllRanks && r != t.Rank {
			continue
		}

		for _, b := range c.Banks[r] {
			if b.Open {
				return true
			}
		}
	}

	return false
}

// StartCommand applies the state change of a command and the timing
// restrictions it places on later commands.
func (c *Channel) StartCommand(kind signal.CommandKind, t Target) {
	rankWide := IsRankWide(kind)

	for r := range c.Banks {
		inTarget := t.AllRanks || r == t.Rank

		for i, b := range c.Banks[r] {
			hit := inTarget && (rankWide || i == t.Bank)
			if hit {
				b.startCommand(kind, t.Row)
			}

			c.updateBankTiming(b, kind, hit, inTarget)
		}
	}
}

func (c *Channel) updateBankTiming(
	b *Bank,
	kind signal.CommandKind,
	hit, sameRank bool,
) {
	var table TimeTable

	switch {
	case hit:
		table = c.Timing.SameBank
	case sameRank:
		table = c.Timing.OtherBanksInRank
	default:
		table = c.Timing.OtherRanks
	}

	for _, e := range table[kind] {
		b.UpdateTiming(e.NextCmdKind, e.MinCycleInBetween)
	}
}

// Tick counts every bank's restrictions down by one cycle.
func (c *Channel) Tick() {
	for _, rank := range c.Banks {
		for _, b := range rank {
			b.Tick()
		}
	}
}

// Reset closes every bank and drops all pending timing restrictions.
func (c *Channel) Reset() {
	for _, rank := range c.Banks {
		for i := range rank {
			rank[i] = &Bank{}
		}
	}
}
