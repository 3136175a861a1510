package ddr2

import (
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/internal/org"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
)

// Config is the full set of parameters a controller is built with. All
// timings are in controller ticks. A Config does not change after Build.
type Config struct {
	NumRank int
	NumBank int
	NumRow  int
	NumCol  int

	// DataWidth is the number of bits in a data word.
	DataWidth int

	CommandQueueSize   int
	WriteDataQueueSize int
	ReturnQueueSize    int
	ReturnMargin       int

	CL int
	AL int
	RL int
	WL int

	TWR  int
	TRCD int
	TRP  int
	TRPA int
	TRAS int
	TRC  int
	TRRD int
	TFAW int
	TRTP int
	TWTR int
	TRFC int
	TMRD int

	TREFI            int
	RefreshThreshold int

	// TXSNR is the wait after leaving self-refresh before the next command.
	TXSNR int
	TXP   int

	PowerUpWait     int
	ClockEnableWait int
	CalibrationWait int
	DLLLockWait     int

	// MinActivateGap is the least number of ticks between two ACTIVATE
	// commands, wide enough that any four of them span TFAW.
	MinActivateGap int

	Rtt                 signal.Rtt
	DLLEnable           bool
	AutoSelfRefreshIdle int

	MR         uint32
	EMR1       uint32
	EMR2       uint32
	EMR3       uint32
	EMR1DLLOn  uint32
	EMR1DLLOff uint32
}

// DataMask has the low DataWidth bits set.
func (c Config) DataMask() uint64 {
	if c.DataWidth >= 64 {
		return ^uint64(0)
	}

	return 1<<uint(c.DataWidth) - 1
}

// ODT tells if writes drive the on-die termination line.
func (c Config) ODT() bool {
	return c.Rtt != signal.RttDisabled
}

func (c Config) timingParams() org.TimingParams {
	return org.TimingParams{
		Burst: BurstLength,
		AL:    c.AL,
		RL:    c.RL,
		WL:    c.WL,
		TRCD:  c.TRCD,
		TRP:   c.TRP,
		TRPA:  c.TRPA,
		TRAS:  c.TRAS,
		TRC:   c.TRC,
		TRRD:  c.TRRD,
		TRTP:  c.TRTP,
		TWR:   c.TWR,
		TWTR:  c.TWTR,
		TRFC:  c.TRFC,
		TMRD:  c.TMRD,
	}
}
