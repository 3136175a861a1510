package ddr2

import (
	"fmt"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/naming"
)

// Lockstep runs several identical controllers side by side to widen the data
// bus. Every lane sees the same command stream; each lane carries its own
// slice of every data word.
type Lockstep struct {
	lanes     []*Comp
	laneWidth int
	laneMask  uint64
}

// BuildLockstep builds n lanes from the same builder. The combined word
// width is n times the builder's data width and must fit 64 bits.
func BuildLockstep(b Builder, name string, n int) *Lockstep {
	cfg := b.Config()

	if n <= 0 || n*cfg.DataWidth > 64 {
		panic(fmt.Sprintf("%d lanes of %d bits do not fit a 64-bit word",
			n, cfg.DataWidth))
	}

	l := &Lockstep{
		laneWidth: cfg.DataWidth,
		laneMask:  cfg.DataMask(),
	}

	for i := 0; i < n; i++ {
		l.lanes = append(l.lanes, b.Build(naming.BuildNameWithIndex(name, "Lane", i)))
	}

	return l
}

// Lanes returns the controllers of the array.
func (l *Lockstep) Lanes() []*Comp {
	return l.lanes
}

// Ready returns true when every lane is initialized.
func (l *Lockstep) Ready() bool {
	for _, c := range l.lanes {
		if !c.Ready() {
			return false
		}
	}

	return true
}

// AdmissionAllowed returns true if every lane would accept a command.
func (l *Lockstep) AdmissionAllowed() bool {
	for _, c := range l.lanes {
		if !c.AdmissionAllowed() {
			return false
		}
	}

	return true
}

// WriteBackpressure is raised when any lane is short of write space.
func (l *Lockstep) WriteBackpressure() bool {
	for _, c := range l.lanes {
		if c.WriteBackpressure() {
			return true
		}
	}

	return false
}

// Enqueue gives the command to every lane, or to none.
func (l *Lockstep) Enqueue(cmd Command) bool {
	if !l.AdmissionAllowed() {
		return false
	}

	for _, c := range l.lanes {
		c.Enqueue(cmd)
	}

	return true
}

// PushWriteData splits a wide word into lanes. Lane i takes bits
// [i*w, (i+1)*w).
func (l *Lockstep) PushWriteData(word uint64) bool {
	for _, c := range l.lanes {
		if c.writeData.Free() == 0 {
			return false
		}
	}

	for i, c := range l.lanes {
		c.PushWriteData(word >> uint(i*l.laneWidth) & l.laneMask)
	}

	return true
}

// PopReturn joins one word from every lane. It returns false until all lanes
// have data.
func (l *Lockstep) PopReturn() (ReturnEntry, bool) {
	for _, c := range l.lanes {
		if _, ok := c.PeekReturn(); !ok {
			return ReturnEntry{}, false
		}
	}

	var joined ReturnEntry

	for i, c := range l.lanes {
		e, _ := c.PopReturn()
		if i == 0 {
			joined.Address = e.Address
		}

		joined.Data |= e.Data << uint(i*l.laneWidth)
	}

	return joined, true
}

// Initialize starts initialization on all lanes.
func (l *Lockstep) Initialize() {
	for _, c := range l.lanes {
		c.Initialize()
	}
}

// Reset resets all lanes.
func (l *Lockstep) Reset() {
	for _, c := range l.lanes {
		c.Reset()
	}
}

// RequestSelfRefresh forwards the request to every lane.
func (l *Lockstep) RequestSelfRefresh() {
	for _, c := range l.lanes {
		c.RequestSelfRefresh()
	}
}

// ExitSelfRefresh forwards the request to every lane.
func (l *Lockstep) ExitSelfRefresh() {
	for _, c := range l.lanes {
		c.ExitSelfRefresh()
	}
}

// RequestPowerDown forwards the request to every lane.
func (l *Lockstep) RequestPowerDown() {
	for _, c := range l.lanes {
		c.RequestPowerDown()
	}
}

// ExitPowerDown forwards the request to every lane.
func (l *Lockstep) ExitPowerDown() {
	for _, c := range l.lanes {
		c.ExitPowerDown()
	}
}

// RequestDLL forwards the request to every lane.
func (l *Lockstep) RequestDLL(enable bool) {
	for _, c := range l.lanes {
		c.RequestDLL(enable)
	}
}

// Status combines the status of all lanes. The array is ready and admits
// commands only if every lane does, and it is busy or in a low-power mode if
// any lane is. Queue lengths count what all lanes can serve together, so the
// command queue reports its longest lane and the data queues their shortest.
func (l *Lockstep) Status() Status {
	s := l.lanes[0].Status()

	for _, c := range l.lanes[1:] {
		o := c.Status()

		s.Ready = s.Ready && o.Ready
		s.AdmissionAllowed = s.AdmissionAllowed && o.AdmissionAllowed
		s.DLLBusy = s.DLLBusy || o.DLLBusy
		s.SelfRefreshActive = s.SelfRefreshActive || o.SelfRefreshActive
		s.PowerDownActive = s.PowerDownActive || o.PowerDownActive
		s.CommandQueueLen = max(s.CommandQueueLen, o.CommandQueueLen)
		s.WriteDataQueueLen = min(s.WriteDataQueueLen, o.WriteDataQueueLen)
		s.ReturnQueueLen = min(s.ReturnQueueLen, o.ReturnQueueLen)
	}

	return s
}

// Tick advances every lane. devs holds the device output of each lane, in
// lane order.
func (l *Lockstep) Tick(devs []signal.DeviceOutput) []signal.BusState {
	if len(devs) != len(l.lanes) {
		panic(fmt.Sprintf("got %d device outputs for %d lanes",
			len(devs), len(l.lanes)))
	}

	buses := make([]signal.BusState, len(l.lanes))
	for i, c := range l.lanes {
		buses[i] = c.Tick(devs[i])
	}

	return buses
}
