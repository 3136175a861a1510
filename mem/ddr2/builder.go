package ddr2

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
	"github.com/sarchlab/ddr2ctrl/sim/naming"
)

// Builder can build new DDR2 controllers.
type Builder struct {
	hooks []hooking.Hook

	numRank   int
	numBank   int
	numRow    int
	numCol    int
	dataWidth int

	commandQueueSize   int
	writeDataQueueSize int
	returnQueueSize    int
	returnMargin       int

	tCL   int
	tAL   int
	tWR   int
	tRCD  int
	tRP   int
	tRPA  int
	tRAS  int
	tRC   int
	tRRD  int
	tFAW  int
	tRTP  int
	tWTR  int
	tRFC  int
	tMRD  int
	tREFI int
	tXSNR int
	tXP   int

	refreshThreshold    int
	powerUpWait         int
	clockEnableWait     int
	calibrationWait     int
	dllLockWait         int
	autoSelfRefreshIdle int

	rtt       signal.Rtt
	dllEnable bool
}

// MakeBuilder creates a builder with the parameters of a DDR2-533 (4-4-4)
// device clocked at 266 MHz.
func MakeBuilder() Builder {
	b := Builder{
		numRank:            1,
		numBank:            8,
		numRow:             8192,
		numCol:             1024,
		dataWidth:          64,
		commandQueueSize:   64,
		writeDataQueueSize: 64,
		returnQueueSize:    128,
		returnMargin:       BurstLength,
		tCL:                4,
		tAL:                0,
		tWR:                4,
		tRCD:               4,
		tRP:                4,
		tRPA:               5,
		tRAS:               12,
		tRC:                16,
		tRRD:               2,
		tFAW:               10,
		tRTP:               2,
		tWTR:               2,
		tRFC:               28,
		tMRD:               2,
		tREFI:              2080,
		tXSNR:              200,
		tXP:                2,
		refreshThreshold:   128,
		powerUpWait:        53334,
		clockEnableWait:    107,
		calibrationWait:    200,
		dllLockWait:        200,
		rtt:                signal.Rtt75,
		dllEnable:          true,
	}

	return b
}

// WithAdditionalHooks adds a hook to the controller and its queues.
func (b Builder) WithAdditionalHooks(h hooking.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// WithNumRank sets the number of ranks behind the command bus.
func (b Builder) WithNumRank(n int) Builder {
	b.numRank = n
	return b
}

// WithNumBank sets the number of banks in each rank.
func (b Builder) WithNumBank(n int) Builder {
	b.numBank = n
	return b
}

// WithNumRow sets the number of rows in each bank.
func (b Builder) WithNumRow(n int) Builder {
	b.numRow = n
	return b
}

// WithNumCol sets the number of columns in each row.
func (b Builder) WithNumCol(n int) Builder {
	b.numCol = n
	return b
}

// WithDataWidth sets the number of bits in a data word.
func (b Builder) WithDataWidth(n int) Builder {
	b.dataWidth = n
	return b
}

// WithCommandQueueSize sets the number of host commands that can wait.
func (b Builder) WithCommandQueueSize(n int) Builder {
	b.commandQueueSize = n
	return b
}

// WithWriteDataQueueSize sets the number of write words that can wait.
func (b Builder) WithWriteDataQueueSize(n int) Builder {
	b.writeDataQueueSize = n
	return b
}

// WithReturnQueueSize sets the number of read words that can wait for the
// host.
func (b Builder) WithReturnQueueSize(n int) Builder {
	b.returnQueueSize = n
	return b
}

// WithReturnMargin sets the return-queue space that must remain free on top
// of the words a read is about to return.
func (b Builder) WithReturnMargin(n int) Builder {
	b.returnMargin = n
	return b
}

// WithTCL sets the CAS latency in cycles.
func (b Builder) WithTCL(cycle int) Builder {
	b.tCL = cycle
	return b
}

// WithTAL sets the additive latency in cycles.
func (b Builder) WithTAL(cycle int) Builder {
	b.tAL = cycle
	return b
}

// WithTWR sets the write recovery time in cycles.
func (b Builder) WithTWR(cycle int) Builder {
	b.tWR = cycle
	return b
}

// WithTRCD sets the row-to-column delay in cycles.
func (b Builder) WithTRCD(cycle int) Builder {
	b.tRCD = cycle
	return b
}

// WithTRP sets the row precharge latency in cycles.
func (b Builder) WithTRP(cycle int) Builder {
	b.tRP = cycle
	return b
}

// WithTRPA sets the precharge-all latency in cycles.
func (b Builder) WithTRPA(cycle int) Builder {
	b.tRPA = cycle
	return b
}

// WithTRAS sets the minimum row active time in cycles.
func (b Builder) WithTRAS(cycle int) Builder {
	b.tRAS = cycle
	return b
}

// WithTRC sets the activate-to-activate latency of a bank in cycles.
func (b Builder) WithTRC(cycle int) Builder {
	b.tRC = cycle
	return b
}

// WithTRRD sets the activate-to-activate latency across banks in cycles.
func (b Builder) WithTRRD(cycle int) Builder {
	b.tRRD = cycle
	return b
}

// WithTFAW sets the four-activate window in cycles.
func (b Builder) WithTFAW(cycle int) Builder {
	b.tFAW = cycle
	return b
}

// WithTRTP sets the read-to-precharge latency in cycles.
func (b Builder) WithTRTP(cycle int) Builder {
	b.tRTP = cycle
	return b
}

// WithTWTR sets the write-to-read turnaround in cycles.
func (b Builder) WithTWTR(cycle int) Builder {
	b.tWTR = cycle
	return b
}

// WithTRFC sets the refresh cycle time in cycles.
func (b Builder) WithTRFC(cycle int) Builder {
	b.tRFC = cycle
	return b
}

// WithTMRD sets the mode-register-set cycle time.
func (b Builder) WithTMRD(cycle int) Builder {
	b.tMRD = cycle
	return b
}

// WithTREFI sets the refresh interval in cycles.
func (b Builder) WithTREFI(cycle int) Builder {
	b.tREFI = cycle
	return b
}

// WithRefreshThreshold sets how early, in cycles before the interval runs out,
// a refresh becomes due.
func (b Builder) WithRefreshThreshold(cycle int) Builder {
	b.refreshThreshold = cycle
	return b
}

// WithTXSNR sets the self-refresh exit time in cycles.
func (b Builder) WithTXSNR(cycle int) Builder {
	b.tXSNR = cycle
	return b
}

// WithTXP sets the power-down exit time in cycles.
func (b Builder) WithTXP(cycle int) Builder {
	b.tXP = cycle
	return b
}

// WithPowerUpWait sets how long the clock enable stays low after power-up.
func (b Builder) WithPowerUpWait(cycle int) Builder {
	b.powerUpWait = cycle
	return b
}

// WithClockEnableWait sets the wait between raising the clock enable and the
// first command.
func (b Builder) WithClockEnableWait(cycle int) Builder {
	b.clockEnableWait = cycle
	return b
}

// WithCalibrationWait sets the time reserved for calibration and DLL lock at
// the end of initialization. 0 skips it.
func (b Builder) WithCalibrationWait(cycle int) Builder {
	b.calibrationWait = cycle
	return b
}

// WithDLLLockWait sets the wait after the DLL is reprogrammed.
func (b Builder) WithDLLLockWait(cycle int) Builder {
	b.dllLockWait = cycle
	return b
}

// WithAutoSelfRefreshIdle lets the controller enter self-refresh on its own
// after the given number of idle cycles. 0 disables it.
func (b Builder) WithAutoSelfRefreshIdle(cycle int) Builder {
	b.autoSelfRefreshIdle = cycle
	return b
}

// WithRtt sets the on-die termination.
func (b Builder) WithRtt(rtt signal.Rtt) Builder {
	b.rtt = rtt
	return b
}

// WithDLLEnable sets whether the DLL is on after initialization.
func (b Builder) WithDLLEnable(enable bool) Builder {
	b.dllEnable = enable
	return b
}

// Config validates the parameters and derives the full configuration.
func (b Builder) Config() Config {
	b.mustBeValid()

	rl := b.tAL + b.tCL

	return Config{
		NumRank:             b.numRank,
		NumBank:             b.numBank,
		NumRow:              b.numRow,
		NumCol:              b.numCol,
		DataWidth:           b.dataWidth,
		CommandQueueSize:    b.commandQueueSize,
		WriteDataQueueSize:  b.writeDataQueueSize,
		ReturnQueueSize:     b.returnQueueSize,
		ReturnMargin:        b.returnMargin,
		CL:                  b.tCL,
		AL:                  b.tAL,
		RL:                  rl,
		WL:                  rl - 1,
		TWR:                 b.tWR,
		TRCD:                b.tRCD,
		TRP:                 b.tRP,
		TRPA:                b.tRPA,
		TRAS:                b.tRAS,
		TRC:                 b.tRC,
		TRRD:                b.tRRD,
		TFAW:                b.tFAW,
		TRTP:                b.tRTP,
		TWTR:                b.tWTR,
		TRFC:                b.tRFC,
		TMRD:                b.tMRD,
		TREFI:               b.tREFI,
		RefreshThreshold:    b.refreshThreshold,
		TXSNR:               b.tXSNR,
		TXP:                 b.tXP,
		PowerUpWait:         b.powerUpWait,
		ClockEnableWait:     b.clockEnableWait,
		CalibrationWait:     b.calibrationWait,
		DLLLockWait:         b.dllLockWait,
		MinActivateGap:      max(b.tRRD, (b.tFAW+2)/3),
		Rtt:                 b.rtt,
		DLLEnable:           b.dllEnable,
		AutoSelfRefreshIdle: b.autoSelfRefreshIdle,
		MR:                  signal.EncodeMR(b.tCL, b.tWR, false),
		EMR1:                signal.EncodeEMR1(b.dllEnable, b.rtt, b.tAL, false),
		EMR1DLLOn:           signal.EncodeEMR1(true, b.rtt, b.tAL, false),
		EMR1DLLOff:          signal.EncodeEMR1(false, b.rtt, b.tAL, false),
	}
}

// Build builds a new controller. The name must follow the component naming
// convention, for example "Ctrl" or "Wide.Lane[0]".
func (b Builder) Build(name string) *Comp {
	naming.MustBeValid(name)

	c := newComp(name, b.Config())

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	return c
}

func (b Builder) mustBeValid() {
	if b.numRank <= 0 || b.numRank > 32 {
		panic(fmt.Sprintf("number of ranks %d out of range 1..32", b.numRank))
	}

	mustBePowerOfTwo("number of banks", b.numBank)
	mustBePowerOfTwo("number of rows", b.numRow)
	mustBePowerOfTwo("number of columns", b.numCol)

	if b.numBank > 8 {
		panic("DDR2 supports at most 8 banks")
	}

	if b.numCol < BurstLength {
		panic("a row must hold at least one burst")
	}

	addrBits := log2(b.numBank) + log2(b.numRow) + log2(b.numCol)
	if addrBits > 64 {
		panic(fmt.Sprintf("address width %d exceeds 64 bits", addrBits))
	}

	if b.dataWidth <= 0 || b.dataWidth > 64 {
		panic(fmt.Sprintf("data width %d out of range 1..64", b.dataWidth))
	}

	if b.tCL < 3 || b.tCL > 6 {
		panic(fmt.Sprintf("CAS latency %d not supported", b.tCL))
	}

	if b.tAL < 0 || b.tAL > 5 {
		panic(fmt.Sprintf("additive latency %d not supported", b.tAL))
	}

	if b.tWR < 2 || b.tWR > 8 {
		panic(fmt.Sprintf("write recovery %d not supported", b.tWR))
	}

	b.mustHaveQueues()
	b.mustHaveTimings()
}

func (b Builder) mustHaveQueues() {
	if b.commandQueueSize <= 0 {
		panic("command queue size must be positive")
	}

	maxBlock := MaxBlockSize * BurstLength
	if b.writeDataQueueSize < maxBlock {
		panic(fmt.Sprintf(
			"write data queue of %d words cannot hold a %d-word block",
			b.writeDataQueueSize, maxBlock))
	}

	if b.returnMargin < 0 || b.returnQueueSize < maxBlock+b.returnMargin {
		panic(fmt.Sprintf(
			"return queue of %d words cannot hold a %d-word block plus %d",
			b.returnQueueSize, maxBlock, b.returnMargin))
	}
}

func (b Builder) mustHaveTimings() {
	timings := map[string]int{
		"tRCD": b.tRCD,
		"tRP":  b.tRP,
		"tRPA": b.tRPA,
		"tRAS": b.tRAS,
		"tRC":  b.tRC,
		"tRRD": b.tRRD,
		"tRFC": b.tRFC,
		"tMRD": b.tMRD,
	}

	for name, v := range timings {
		if v <= 0 {
			panic(fmt.Sprintf("%s must be positive, got %d", name, v))
		}
	}

	if b.tRC < b.tRAS+b.tRP {
		panic("tRC must cover tRAS + tRP")
	}

	if b.refreshThreshold < 0 || b.refreshThreshold >= b.tREFI {
		panic(fmt.Sprintf("refresh threshold %d must be below tREFI %d",
			b.refreshThreshold, b.tREFI))
	}
}

func mustBePowerOfTwo(what string, n int) {
	if n <= 0 || n&(n-1) != 0 {
		panic(fmt.Sprintf("%s must be a power of 2, got %d", what, n))
	}
}

func log2(n int) int {
	return bits.TrailingZeros(uint(n))
}
