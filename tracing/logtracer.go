// Package tracing records what DDR2 controllers put on the bus, either as
// text lines or into an SQLite database.
package tracing

import (
	"log"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
	"github.com/sarchlab/ddr2ctrl/sim/naming"
)

func domainName(d hooking.Hookable) string {
	if n, ok := d.(naming.Named); ok {
		return n.Name()
	}

	return ""
}

// LogTracer is a hook that prints every command and clock-enable change a
// controller drives, plus every command the host enqueues.
type LogTracer struct {
	*log.Logger

	prevCKE map[string]bool
}

// NewLogTracer returns a tracer that writes into the logger.
func NewLogTracer(logger *log.Logger) *LogTracer {
	return &LogTracer{
		Logger:  logger,
		prevCKE: make(map[string]bool),
	}
}

// Func writes the hook item into the logger.
func (t *LogTracer) Func(ctx hooking.HookCtx) {
	name := domainName(ctx.Domain)

	switch ctx.Pos {
	case ddr2.HookPosBus:
		bus, ok := ctx.Item.(signal.BusState)
		if !ok {
			return
		}

		t.logBus(name, bus)
	case ddr2.HookPosEnqueue:
		cmd, ok := ctx.Item.(ddr2.Command)
		if !ok {
			return
		}

		t.Printf("%s,enqueue,%s,size=%d,addr=0x%x,rank=%d",
			name, cmd.Opcode, cmd.Size, cmd.Address, cmd.Rank)
	}
}

func (t *LogTracer) logBus(name string, bus signal.BusState) {
	if prev, seen := t.prevCKE[name]; !seen || prev != bus.CKE {
		t.prevCKE[name] = bus.CKE
		if seen {
			t.Printf("%d,%s,cke=%t", bus.Cycle, name, bus.CKE)
		}
	}

	kind := bus.EffectiveKind()
	if kind == signal.CmdKindNoOp {
		return
	}

	t.Printf("%d,%s,%s,cs=%b,ba=%d,a=0x%x",
		bus.Cycle, name, kind, bus.ChipSelect, bus.Bank, bus.Address)
}
