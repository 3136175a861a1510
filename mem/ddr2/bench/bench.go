// Package bench connects a DDR2 controller to device models and a protocol
// checker, and clocks them together.
package bench

import (
	"context"
	"sync"

	"github.com/rs/xid"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/devicemodel"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/protocolcheck"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
)

// Bench is a controller wired to one device model per rank. All methods are
// safe to call from several goroutines.
type Bench struct {
	mu     sync.Mutex
	resume *sync.Cond

	id      string
	ctrl    *ddr2.Comp
	devices []*devicemodel.Device
	checker *protocolcheck.Checker

	devOut  signal.DeviceOutput
	lastBus signal.BusState
	paused  bool
}

// New builds a bench around a controller made by b. The checker is attached
// to the controller as a hook.
func New(b ddr2.Builder) *Bench {
	id := xid.New().String()

	bench := &Bench{
		id:   id,
		ctrl: b.Build("DDR2Ctrl"),
	}
	bench.resume = sync.NewCond(&bench.mu)

	cfg := bench.ctrl.Config()
	for r := 0; r < cfg.NumRank; r++ {
		bench.devices = append(bench.devices,
			devicemodel.New(r, cfg.NumBank))
	}

	bench.checker = protocolcheck.NewChecker(cfg)
	bench.ctrl.AcceptHook(bench.checker)

	return bench
}

// ID returns the unique ID of the bench.
func (b *Bench) ID() string {
	return b.id
}

// Controller returns the controller under test.
func (b *Bench) Controller() *ddr2.Comp {
	return b.ctrl
}

// Devices returns the device model of each rank.
func (b *Bench) Devices() []*devicemodel.Device {
	return b.devices
}

// Checker returns the protocol checker.
func (b *Bench) Checker() *protocolcheck.Checker {
	return b.checker
}

// AcceptHook registers a hook with the controller.
func (b *Bench) AcceptHook(h hooking.Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctrl.AcceptHook(h)
}

// Do runs f while holding the bench lock, so that f sees the controller
// between two cycles.
func (b *Bench) Do(f func(ctrl *ddr2.Comp)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f(b.ctrl)
}

// Status returns the controller status.
func (b *Bench) Status() ddr2.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ctrl.Status()
}

// LastBus returns the bus state of the last cycle.
func (b *Bench) LastBus() signal.BusState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastBus
}

// Tick advances the controller and the devices by one cycle.
func (b *Bench) Tick() signal.BusState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tick()
}

func (b *Bench) tick() signal.BusState {
	bus := b.ctrl.Tick(b.devOut)

	var out signal.DeviceOutput
	for _, d := range b.devices {
		o := d.Step(bus)
		if o.DQSDriven {
			out = o
		}
	}

	b.devOut = out
	b.lastBus = bus

	return bus
}

// Run advances n cycles.
func (b *Bench) Run(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n; i++ {
		b.tick()
	}
}

// RunResumable advances n cycles like Run, but holds between cycles while
// the bench is paused. The bench is unlocked between cycles, so Pause and Do
// take effect during the run.
func (b *Bench) RunResumable(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n; {
		if b.paused {
			b.resume.Wait()
			continue
		}

		b.tick()
		i++

		b.mu.Unlock()
		b.mu.Lock()
	}
}

// RunUntil advances until cond holds, checking it before every cycle. It
// gives up after limit cycles and returns whether cond was met.
func (b *Bench) RunUntil(cond func(ctrl *ddr2.Comp) bool, limit int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < limit; i++ {
		if cond(b.ctrl) {
			return true
		}

		b.tick()
	}

	return cond(b.ctrl)
}

// Initialize starts the power-up program and runs until the controller is
// ready. It returns false if that takes more than limit cycles.
func (b *Bench) Initialize(limit int) bool {
	b.Do(func(ctrl *ddr2.Comp) { ctrl.Initialize() })

	return b.RunUntil((*ddr2.Comp).Ready, limit)
}

// Pause stops a running Serve loop after the current cycle.
func (b *Bench) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.paused = true
}

// Continue resumes a paused Serve loop.
func (b *Bench) Continue() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.paused = false
	b.resume.Broadcast()
}

// Paused tells if the Serve loop is paused.
func (b *Bench) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.paused
}

// Serve clocks the bench until ctx is done, holding while paused.
func (b *Bench) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.resume.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for ctx.Err() == nil {
		if b.paused {
			b.resume.Wait()
			continue
		}

		b.tick()

		b.mu.Unlock()
		b.mu.Lock()
	}
}
