// Package protocolcheck watches the bus a DDR2 controller drives and reports
// every command that breaks a device timing rule.
package protocolcheck

import (
	"fmt"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
)

// Rule names a timing or state rule.
type Rule string

// The rules the checker enforces.
const (
	RuleTRCD            Rule = "tRCD"
	RuleTRP             Rule = "tRP"
	RuleTRAS            Rule = "tRAS"
	RuleTRC             Rule = "tRC"
	RuleTRRD            Rule = "tRRD"
	RuleTFAW            Rule = "tFAW"
	RuleTRFC            Rule = "tRFC"
	RuleTMRD            Rule = "tMRD"
	RuleTWTR            Rule = "tWTR"
	RuleRefreshLate     Rule = "refresh late"
	RuleRefreshEarly    Rule = "refresh early"
	RuleClockDisabled   Rule = "command with clock disabled"
	RuleExitTime        Rule = "command before exit time"
	RuleActivateOpen    Rule = "activate open bank"
	RuleAccessClosed    Rule = "access closed bank"
	RuleRefreshWithOpen Rule = "refresh with open bank"
)

// Violation is one broken rule.
type Violation struct {
	Cycle  uint64
	Rank   int
	Bank   int
	Rule   Rule
	Detail string
}

func (v Violation) Error() string {
	return fmt.Sprintf("cycle %d rank %d bank %d: %s: %s",
		v.Cycle, v.Rank, v.Bank, v.Rule, v.Detail)
}

const never = -1 << 40

type bankRecord struct {
	open    bool
	lastAct int64
	lastPre int64
}

type rankRecord struct {
	banks     []bankRecord
	acts      []int64
	lastWrite int64
	lastRef   int64
	lastMRS   int64
}

type readier interface {
	Ready() bool
}

// Checker is a hook that checks the bus states of a controller. It can also
// be fed bus states directly with Observe.
type Checker struct {
	cfg   ddr2.Config
	ranks []rankRecord

	prevCKE     bool
	selfRefresh bool
	exitAllowed int64

	refreshArmed bool
	lastRefresh  int64
	strictEarly  bool

	violations []Violation
}

// NewChecker creates a checker for controllers built with cfg.
func NewChecker(cfg ddr2.Config) *Checker {
	c := &Checker{
		cfg:         cfg,
		ranks:       make([]rankRecord, cfg.NumRank),
		exitAllowed: never,
	}

	for i := range c.ranks {
		r := &c.ranks[i]
		r.banks = make([]bankRecord, cfg.NumBank)
		r.lastWrite, r.lastRef, r.lastMRS = never, never, never

		for b := range r.banks {
			r.banks[b] = bankRecord{lastAct: never, lastPre: never}
		}
	}

	return c
}

// Func implements hooking.Hook.
func (c *Checker) Func(ctx hooking.HookCtx) {
	if ctx.Pos != ddr2.HookPosBus {
		return
	}

	bus, ok := ctx.Item.(signal.BusState)
	if !ok {
		return
	}

	ready := true
	if r, ok := ctx.Domain.(readier); ok {
		ready = r.Ready()
	}

	c.Observe(bus, ready)
}

// Violations returns everything found so far.
func (c *Checker) Violations() []Violation {
	return c.violations
}

// Observe checks the bus state of one cycle. ready tells if the controller
// has finished initialization.
func (c *Checker) Observe(bus signal.BusState, ready bool) {
	now := int64(bus.Cycle)

	c.trackPower(bus, now)

	if ready && !c.refreshArmed {
		c.refreshArmed = true
		c.lastRefresh = now
	}

	if c.refreshArmed && !c.selfRefresh && now > c.exitAllowed {
		c.checkRefreshDue(now)
	}

	if bus.EffectiveKind() == signal.CmdKindNoOp {
		return
	}

	if !bus.CKE && bus.Kind != signal.CmdKindSelfRefreshEntry {
		c.report(now, -1, -1, RuleClockDisabled, bus.Kind.String())
		return
	}

	if now < c.exitAllowed {
		c.report(now, -1, -1, RuleExitTime, bus.Kind.String())
	}

	for r := range c.ranks {
		if bus.Selects(r) {
			c.checkCommand(bus, r, now)
		}
	}

	if bus.Kind == signal.CmdKindAutoRefresh && ready {
		c.checkRefreshSpacing(now)
	}
}

// Finish checks that the last refresh is not overdue at the given cycle.
func (c *Checker) Finish(cycle uint64) {
	if c.refreshArmed && !c.selfRefresh {
		c.checkRefreshDue(int64(cycle))
	}
}

func (c *Checker) report(now int64, rank, bank int, rule Rule, detail string) {
	c.violations = append(c.violations, Violation{
		Cycle:  uint64(now),
		Rank:   rank,
		Bank:   bank,
		Rule:   rule,
		Detail: detail,
	})
}

func (c *Checker) trackPower(bus signal.BusState, now int64) {
	switch {
	case c.prevCKE && !bus.CKE:
		c.selfRefresh = bus.EffectiveKind() == signal.CmdKindSelfRefreshEntry
	case !c.prevCKE && bus.CKE && c.refreshArmed:
		if c.selfRefresh {
			c.exitAllowed = now + int64(c.cfg.TXSNR)
			c.lastRefresh = c.exitAllowed
			c.strictEarly = false
			c.selfRefresh = false
		} else {
			c.exitAllowed = now + int64(c.cfg.TXP)
		}
	}

	c.prevCKE = bus.CKE
}

func (c *Checker) refreshMargin() int64 {
	return int64(c.cfg.RefreshThreshold)
}

func (c *Checker) checkRefreshDue(now int64) {
	limit := c.lastRefresh + int64(c.cfg.TREFI) + c.refreshMargin()
	if now > limit {
		c.report(now, -1, -1, RuleRefreshLate,
			fmt.Sprintf("last refresh at %d", c.lastRefresh))
		c.lastRefresh = now
	}
}

func (c *Checker) checkRefreshSpacing(now int64) {
	gap := now - c.lastRefresh
	if c.strictEarly && gap < int64(c.cfg.TREFI)-c.refreshMargin() {
		c.report(now, -1, -1, RuleRefreshEarly,
			fmt.Sprintf("only %d cycles after the previous one", gap))
	}

	c.lastRefresh = now
	c.strictEarly = true
}

func (c *Checker) checkCommand(bus signal.BusState, rank int, now int64) {
	r := &c.ranks[rank]

	if now-r.lastRef < int64(c.cfg.TRFC) {
		c.report(now, rank, bus.Bank, RuleTRFC, bus.Kind.String())
	}

	if now-r.lastMRS < int64(c.cfg.TMRD) {
		c.report(now, rank, bus.Bank, RuleTMRD, bus.Kind.String())
	}

	switch bus.Kind {
	case signal.CmdKindActivate:
		c.checkActivate(r, rank, bus.Bank, now)
	case signal.CmdKindRead, signal.CmdKindReadPrecharge,
		signal.CmdKindWrite, signal.CmdKindWritePrecharge:
		c.checkColumn(r, rank, bus, now)
	case signal.CmdKindPrecharge:
		c.precharge(r, rank, bus.Bank, now)
	case signal.CmdKindPrechargeAll:
		for b := range r.banks {
			c.precharge(r, rank, b, now)
		}
	case signal.CmdKindAutoRefresh, signal.CmdKindSelfRefreshEntry:
		c.checkRankIdle(r, rank, now, bus.Kind)
		if bus.Kind == signal.CmdKindAutoRefresh {
			r.lastRef = now
		}
	case signal.CmdKindModeRegisterSet:
		c.checkRankIdle(r, rank, now, bus.Kind)
		r.lastMRS = now
	}
}

func (c *Checker) checkActivate(r *rankRecord, rank, bank int, now int64) {
	b := &r.banks[bank]

	if b.open {
		c.report(now, rank, bank, RuleActivateOpen, "")
	}

	if now-b.lastPre < int64(c.cfg.TRP) {
		c.report(now, rank, bank, RuleTRP,
			fmt.Sprintf("precharged at %d", b.lastPre))
	}

	if now-b.lastAct < int64(c.cfg.TRC) {
		c.report(now, rank, bank, RuleTRC,
			fmt.Sprintf("activated at %d", b.lastAct))
	}

	if n := len(r.acts); n > 0 && now-r.acts[n-1] < int64(c.cfg.TRRD) {
		c.report(now, rank, bank, RuleTRRD,
			fmt.Sprintf("previous activate at %d", r.acts[n-1]))
	}

	if n := len(r.acts); n >= 3 && now-r.acts[n-3] < int64(c.cfg.TFAW) {
		c.report(now, rank, bank, RuleTFAW,
			fmt.Sprintf("four activates within %d cycles", now-r.acts[n-3]))
	}

	r.acts = append(r.acts, now)
	if len(r.acts) > 3 {
		r.acts = r.acts[1:]
	}

	b.open = true
	b.lastAct = now
}

func (c *Checker) checkColumn(
	r *rankRecord,
	rank int,
	bus signal.BusState,
	now int64,
) {
	b := &r.banks[bus.Bank]

	if !b.open {
		c.report(now, rank, bus.Bank, RuleAccessClosed, bus.Kind.String())
		return
	}

	if now-b.lastAct < int64(c.cfg.TRCD) {
		c.report(now, rank, bus.Bank, RuleTRCD,
			fmt.Sprintf("activated at %d", b.lastAct))
	}

	if bus.Kind.IsRead() &&
		now-r.lastWrite < int64(c.cfg.WL+ddr2.BurstLength+c.cfg.TWTR) {
		c.report(now, rank, bus.Bank, RuleTWTR,
			fmt.Sprintf("write at %d", r.lastWrite))
	}

	if bus.Kind.IsWrite() {
		r.lastWrite = now
	}

	if !bus.Kind.HasAutoPrecharge() {
		return
	}

	var preAt int64
	if bus.Kind.IsRead() {
		preAt = now + int64(c.cfg.AL+ddr2.BurstLength+max(c.cfg.TRTP, 2)-2)
	} else {
		preAt = now + int64(c.cfg.WL+ddr2.BurstLength+c.cfg.TWR)
	}

	if preAt-b.lastAct < int64(c.cfg.TRAS) {
		c.report(now, rank, bus.Bank, RuleTRAS, "auto precharge")
	}

	b.open = false
	b.lastPre = preAt
}

func (c *Checker) precharge(r *rankRecord, rank, bank int, now int64) {
	b := &r.banks[bank]

	if b.open && now-b.lastAct < int64(c.cfg.TRAS) {
		c.report(now, rank, bank, RuleTRAS,
			fmt.Sprintf("activated at %d", b.lastAct))
	}

	b.open = false
	b.lastPre = max(b.lastPre, now)
}

func (c *Checker) checkRankIdle(
	r *rankRecord,
	rank int,
	now int64,
	kind signal.CommandKind,
) {
	for i, b := range r.banks {
		if b.open {
			c.report(now, rank, i, RuleRefreshWithOpen, kind.String())
		}

		if now-b.lastPre < int64(c.cfg.TRP) {
			c.report(now, rank, i, RuleTRP, kind.String())
		}
	}
}
