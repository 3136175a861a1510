package signal

// Mode register indices, driven on the bank address lines of an MRS command.
const (
	ModeRegister = iota
	ExtModeReg1
	ExtModeReg2
	ExtModeReg3
	NumModeRegisters
)

// Mode register (MR) fields.
const (
	MRBurstLength8 uint32 = 0x3
	MRDLLReset     uint32 = 1 << 8
	mrCASShift            = 4
	mrCASMask             = 0x7
	mrWRShift             = 9
	mrWRMask              = 0x7
	MRSlowExitPD   uint32 = 1 << 12
)

// Extended mode register 1 (EMR1) fields.
const (
	EMR1DLLDisable   uint32 = 1 << 0
	EMR1ReducedDrive uint32 = 1 << 1
	emr1RttLow              = 1 << 2
	emr1ALShift             = 3
	emr1ALMask              = 0x7
	emr1RttHigh             = 1 << 6
	EMR1OCDDefault   uint32 = 0x7 << 7
	EMR1DQSDisable   uint32 = 1 << 10
)

// Rtt selects the on-die termination value programmed into EMR1.
type Rtt int

// A list of on-die termination settings.
const (
	RttDisabled Rtt = iota
	Rtt75
	Rtt150
	Rtt50
)

// EncodeMR builds the mode register value for a burst length of 8,
// sequential burst type, the given CAS latency and write recovery.
func EncodeMR(casLatency, writeRecovery int, dllReset bool) uint32 {
	v := MRBurstLength8
	v |= (uint32(casLatency) & mrCASMask) << mrCASShift
	v |= (uint32(writeRecovery-1) & mrWRMask) << mrWRShift

	if dllReset {
		v |= MRDLLReset
	}

	return v
}

// EncodeEMR1 builds the extended mode register 1 value.
func EncodeEMR1(dllEnable bool, rtt Rtt, additiveLatency int, ocdDefault bool) uint32 {
	var v uint32

	if !dllEnable {
		v |= EMR1DLLDisable
	}

	if rtt == Rtt75 || rtt == Rtt50 {
		v |= emr1RttLow
	}

	if rtt == Rtt150 || rtt == Rtt50 {
		v |= emr1RttHigh
	}

	v |= (uint32(additiveLatency) & emr1ALMask) << emr1ALShift

	if ocdDefault {
		v |= EMR1OCDDefault
	}

	return v
}

// DecodeCASLatency extracts the CAS latency from an MR value.
func DecodeCASLatency(mr uint32) int {
	return int((mr >> mrCASShift) & mrCASMask)
}

// DecodeWriteRecovery extracts the write recovery from an MR value.
func DecodeWriteRecovery(mr uint32) int {
	return int((mr>>mrWRShift)&mrWRMask) + 1
}

// DecodeAdditiveLatency extracts the additive latency from an EMR1 value.
func DecodeAdditiveLatency(emr1 uint32) int {
	return int((emr1 >> emr1ALShift) & emr1ALMask)
}

// DecodeDLLEnabled returns true if an EMR1 value leaves the DLL on.
func DecodeDLLEnabled(emr1 uint32) bool {
	return emr1&EMR1DLLDisable == 0
}

// DecodeRtt extracts the termination setting from an EMR1 value.
func DecodeRtt(emr1 uint32) Rtt {
	low := emr1&emr1RttLow != 0
	high := emr1&emr1RttHigh != 0

	switch {
	case low && high:
		return Rtt50
	case low:
		return Rtt75
	case high:
		return Rtt150
	default:
		return RttDisabled
	}
}
