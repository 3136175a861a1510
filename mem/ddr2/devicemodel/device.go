// Package devicemodel provides a behavioral model of one rank of DDR2
// devices. It follows the commands on the bus, stores written data and
// drives read bursts back with the strobe toggling once per word.
package devicemodel

import "github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"

// Cell names one word of storage.
type Cell struct {
	Bank   int
	Row    uint64
	Column uint64
}

type bankState struct {
	open bool
	row  uint64
}

type burst struct {
	start uint64
	bank  int
	row   uint64
	col   uint64
}

// Device is one rank of DDR2 devices.
type Device struct {
	rank  int
	banks []bankState

	storage  map[Cell]uint64
	modeRegs [signal.NumModeRegisters]uint32

	reads  []burst
	writes []burst

	selfRefresh bool
	powerDown   bool
	refreshes   int
	prevCKE     bool
}

// New creates a device for the given rank with all banks closed.
func New(rank, numBank int) *Device {
	return &Device{
		rank:    rank,
		banks:   make([]bankState, numBank),
		storage: make(map[Cell]uint64),
	}
}

// Rank returns the rank the device answers to.
func (d *Device) Rank() int {
	return d.rank
}

// ModeRegister returns the last value written to mode register i.
func (d *Device) ModeRegister(i int) uint32 {
	return d.modeRegs[i]
}

// ReadLatency is the additive plus CAS latency currently programmed.
func (d *Device) ReadLatency() int {
	return signal.DecodeAdditiveLatency(d.modeRegs[signal.ExtModeReg1]) +
		signal.DecodeCASLatency(d.modeRegs[signal.ModeRegister])
}

// WriteLatency is one cycle less than the read latency.
func (d *Device) WriteLatency() int {
	return d.ReadLatency() - 1
}

// DLLEnabled tells if the DLL is switched on.
func (d *Device) DLLEnabled() bool {
	return signal.DecodeDLLEnabled(d.modeRegs[signal.ExtModeReg1])
}

// InSelfRefresh returns true while the device refreshes itself.
func (d *Device) InSelfRefresh() bool {
	return d.selfRefresh
}

// InPowerDown returns true while the device is in power-down.
func (d *Device) InPowerDown() bool {
	return d.powerDown
}

// Refreshes returns the number of AutoRefresh commands received.
func (d *Device) Refreshes() int {
	return d.refreshes
}

// OpenRow returns the open row of a bank, if any.
func (d *Device) OpenRow(bank int) (uint64, bool) {
	b := d.banks[bank]
	return b.row, b.open
}

// Peek returns the content of a cell. Unwritten cells read as 0.
func (d *Device) Peek(c Cell) uint64 {
	return d.storage[c]
}

// Store sets the content of a cell directly.
func (d *Device) Store(c Cell, v uint64) {
	d.storage[c] = v
}

// Step consumes the bus state of one cycle and returns what the device
// drives in the following cycle.
func (d *Device) Step(bus signal.BusState) signal.DeviceOutput {
	d.updatePowerState(bus)
	d.sampleWrites(bus)

	if bus.CKE && d.prevCKE && bus.Selects(d.rank) {
		d.execute(bus)
	}

	d.prevCKE = bus.CKE

	return d.driveReads(bus.Cycle + 1)
}

func (d *Device) updatePowerState(bus signal.BusState) {
	selected := bus.Selects(d.rank)

	switch {
	case !bus.CKE && d.prevCKE && selected &&
		bus.Kind == signal.CmdKindSelfRefreshEntry:
		d.selfRefresh = true
	case !bus.CKE && d.prevCKE && !d.selfRefresh:
		d.powerDown = true
	case bus.CKE && !d.prevCKE:
		d.selfRefresh = false
		d.powerDown = false
	}
}

func (d *Device) execute(bus signal.BusState) {
	switch bus.Kind {
	case signal.CmdKindActivate:
		d.banks[bus.Bank] = bankState{open: true, row: uint64(bus.Address)}
	case signal.CmdKindRead, signal.CmdKindReadPrecharge:
		d.reads = append(d.reads, d.column(bus, d.ReadLatency()))
	case signal.CmdKindWrite, signal.CmdKindWritePrecharge:
		d.writes = append(d.writes, d.column(bus, d.WriteLatency()))
	case signal.CmdKindPrecharge:
		d.banks[bus.Bank].open = false
	case signal.CmdKindPrechargeAll:
		for i := range d.banks {
			d.banks[i].open = false
		}
	case signal.CmdKindAutoRefresh:
		d.refreshes++
	case signal.CmdKindModeRegisterSet:
		d.modeRegs[bus.Bank] = bus.Address
	}
}

func (d *Device) column(bus signal.BusState, latency int) burst {
	b := burst{
		start: bus.Cycle + uint64(latency),
		bank:  bus.Bank,
		row:   d.banks[bus.Bank].row,
		col:   signal.DecodeColumn(bus.Address),
	}

	if bus.Kind.HasAutoPrecharge() {
		d.banks[bus.Bank].open = false
	}

	return b
}

func (d *Device) sampleWrites(bus signal.BusState) {
	kept := d.writes[:0]

	for _, w := range d.writes {
		if bus.Cycle >= w.start && bus.Cycle < w.start+8 {
			beat := bus.Cycle - w.start
			if !bus.DM {
				d.storage[Cell{Bank: w.bank, Row: w.row, Column: w.col + beat}] = bus.DQ
			}
		}

		if bus.Cycle+1 < w.start+8 {
			kept = append(kept, w)
		}
	}

	d.writes = kept
}

func (d *Device) driveReads(cycle uint64) signal.DeviceOutput {
	var out signal.DeviceOutput

	kept := d.reads[:0]

	for _, r := range d.reads {
		if cycle >= r.start && cycle < r.start+8 {
			beat := cycle - r.start
			out = signal.DeviceOutput{
				DQSDriven: true,
				DQS:       beat%2 == 0,
				DQ:        d.storage[Cell{Bank: r.bank, Row: r.row, Column: r.col + beat}],
			}
		}

		if cycle+1 < r.start+8 {
			kept = append(kept, r)
		}
	}

	d.reads = kept

	return out
}
