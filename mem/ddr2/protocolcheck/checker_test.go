package protocolcheck

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
)

var _ = Describe("Checker", func() {
	var (
		cfg     ddr2.Config
		checker *Checker
	)

	issue := func(cycle uint64, kind signal.CommandKind, bank int) {
		checker.Observe(signal.BusState{
			Cycle:      cycle,
			ChipSelect: 1,
			Kind:       kind,
			Bank:       bank,
			CKE:        true,
		}, true)
	}

	rules := func() []Rule {
		var list []Rule
		for _, v := range checker.Violations() {
			list = append(list, v.Rule)
		}

		return list
	}

	BeforeEach(func() {
		cfg = ddr2.MakeBuilder().Config()
		checker = NewChecker(cfg)
	})

	It("should accept a well spaced access", func() {
		issue(10, signal.CmdKindActivate, 1)
		issue(10+uint64(cfg.TRCD), signal.CmdKindReadPrecharge, 1)
		issue(60, signal.CmdKindActivate, 1)

		Expect(checker.Violations()).To(BeEmpty())
	})

	It("should detect a read too close to the activate", func() {
		issue(10, signal.CmdKindActivate, 1)
		issue(10+uint64(cfg.TRCD)-1, signal.CmdKindRead, 1)

		Expect(rules()).To(ConsistOf(RuleTRCD))
		Expect(checker.Violations()[0].Bank).To(Equal(1))
	})

	It("should detect accesses that do not match the bank state", func() {
		issue(10, signal.CmdKindRead, 2)
		issue(20, signal.CmdKindActivate, 2)
		issue(40, signal.CmdKindActivate, 2)

		Expect(rules()).To(ConsistOf(RuleAccessClosed, RuleActivateOpen))
	})

	It("should detect an early activate after precharge", func() {
		issue(10, signal.CmdKindActivate, 0)
		issue(30, signal.CmdKindPrecharge, 0)
		issue(30+uint64(cfg.TRP)-1, signal.CmdKindActivate, 0)

		Expect(rules()).To(ConsistOf(RuleTRP))
	})

	It("should detect a precharge before the row was active long enough", func() {
		issue(10, signal.CmdKindActivate, 0)
		issue(12, signal.CmdKindPrecharge, 0)

		Expect(rules()).To(ConsistOf(RuleTRAS))
	})

	It("should detect four activates in a short window", func() {
		for i := 0; i < 4; i++ {
			issue(uint64(i*cfg.TRRD), signal.CmdKindActivate, i)
		}

		Expect(rules()).To(ConsistOf(RuleTFAW))
		Expect(checker.Violations()[0].Cycle).To(Equal(uint64(3 * cfg.TRRD)))
	})

	It("should detect activates too close together", func() {
		issue(10, signal.CmdKindActivate, 0)
		issue(11, signal.CmdKindActivate, 1)

		Expect(rules()).To(ConsistOf(RuleTRRD))
	})

	It("should detect commands during a refresh", func() {
		issue(10, signal.CmdKindAutoRefresh, 0)
		issue(10+uint64(cfg.TRFC)-1, signal.CmdKindActivate, 0)

		Expect(rules()).To(ContainElement(RuleTRFC))
	})

	It("should detect a read too soon after a write", func() {
		issue(10, signal.CmdKindActivate, 0)
		issue(20, signal.CmdKindWrite, 0)
		issue(21, signal.CmdKindActivate, 1)
		issue(30, signal.CmdKindRead, 1)

		Expect(rules()).To(ConsistOf(RuleTWTR))
	})

	It("should detect commands while the clock is disabled", func() {
		checker.Observe(signal.BusState{Cycle: 1, CKE: true}, true)
		checker.Observe(signal.BusState{
			Cycle: 2, ChipSelect: 1, Kind: signal.CmdKindActivate,
		}, true)

		Expect(rules()).To(ContainElement(RuleClockDisabled))
	})

	It("should detect commands before the self-refresh exit time", func() {
		checker.Observe(signal.BusState{Cycle: 1, CKE: true}, true)
		checker.Observe(signal.BusState{
			Cycle: 2, ChipSelect: 1, Kind: signal.CmdKindSelfRefreshEntry,
		}, true)
		checker.Observe(signal.BusState{Cycle: 3}, true)
		checker.Observe(signal.BusState{Cycle: 4, CKE: true}, true)
		issue(5, signal.CmdKindActivate, 0)

		Expect(rules()).To(ConsistOf(RuleExitTime))
	})

	It("should detect a missing refresh", func() {
		checker.Observe(signal.BusState{CKE: true}, true)
		checker.Finish(uint64(cfg.TREFI + cfg.RefreshThreshold + 1))

		Expect(rules()).To(ConsistOf(RuleRefreshLate))
	})

	It("should detect refreshes that come too often", func() {
		checker.Observe(signal.BusState{CKE: true}, true)
		issue(100, signal.CmdKindAutoRefresh, 0)
		issue(200, signal.CmdKindAutoRefresh, 0)

		Expect(rules()).To(ConsistOf(RuleRefreshEarly))
	})

	It("should listen to the controller bus hook", func() {
		var h hooking.Hook = checker

		h.Func(hooking.HookCtx{
			Pos:  ddr2.HookPosBus,
			Item: signal.BusState{Cycle: 4, ChipSelect: 1, Kind: signal.CmdKindRead, CKE: true},
		})

		Expect(rules()).To(ConsistOf(RuleAccessClosed))
	})
})
