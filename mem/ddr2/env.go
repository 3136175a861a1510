package ddr2

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
)

// EnvPrefix is the prefix of every key WithEnvFile understands.
const EnvPrefix = "DDR2_"

var envSetters = map[string]func(Builder, int) Builder{
	"NUM_RANK":              Builder.WithNumRank,
	"NUM_BANK":              Builder.WithNumBank,
	"NUM_ROW":               Builder.WithNumRow,
	"NUM_COL":               Builder.WithNumCol,
	"DATA_WIDTH":            Builder.WithDataWidth,
	"COMMAND_QUEUE_SIZE":    Builder.WithCommandQueueSize,
	"WRITE_DATA_QUEUE_SIZE": Builder.WithWriteDataQueueSize,
	"RETURN_QUEUE_SIZE":     Builder.WithReturnQueueSize,
	"RETURN_MARGIN":         Builder.WithReturnMargin,
	"TCL":                   Builder.WithTCL,
	"TAL":                   Builder.WithTAL,
	"TWR":                   Builder.WithTWR,
	"TRCD":                  Builder.WithTRCD,
	"TRP":                   Builder.WithTRP,
	"TRPA":                  Builder.WithTRPA,
	"TRAS":                  Builder.WithTRAS,
	"TRC":                   Builder.WithTRC,
	"TRRD":                  Builder.WithTRRD,
	"TFAW":                  Builder.WithTFAW,
	"TRTP":                  Builder.WithTRTP,
	"TWTR":                  Builder.WithTWTR,
	"TRFC":                  Builder.WithTRFC,
	"TMRD":                  Builder.WithTMRD,
	"TREFI":                 Builder.WithTREFI,
	"REFRESH_THRESHOLD":     Builder.WithRefreshThreshold,
	"TXSNR":                 Builder.WithTXSNR,
	"TXP":                   Builder.WithTXP,
	"POWER_UP_WAIT":         Builder.WithPowerUpWait,
	"CLOCK_ENABLE_WAIT":     Builder.WithClockEnableWait,
	"CALIBRATION_WAIT":      Builder.WithCalibrationWait,
	"DLL_LOCK_WAIT":         Builder.WithDLLLockWait,
	"AUTO_SELF_REFRESH":     Builder.WithAutoSelfRefreshIdle,
}

// WithEnvFile overrides builder parameters with the DDR2_* keys of a dotenv
// file, for example DDR2_TRCD=5. Keys without the prefix are ignored.
func (b Builder) WithEnvFile(path string) (Builder, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return b, fmt.Errorf("reading %s: %w", path, err)
	}

	return b.WithEnv(env)
}

// WithEnv applies DDR2_* overrides from a key-value map.
func (b Builder) WithEnv(env map[string]string) (Builder, error) {
	for key, value := range env {
		name, ok := strings.CutPrefix(key, EnvPrefix)
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch name {
		case "RTT":
			rtt, err := parseRtt(value)
			if err != nil {
				return b, fmt.Errorf("%s: %w", key, err)
			}

			b = b.WithRtt(rtt)

			continue
		case "DLL_ENABLE":
			enable, err := strconv.ParseBool(value)
			if err != nil {
				return b, fmt.Errorf("%s: %w", key, err)
			}

			b = b.WithDLLEnable(enable)

			continue
		}

		set, found := envSetters[name]
		if !found {
			return b, fmt.Errorf("unknown configuration key %s", key)
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return b, fmt.Errorf("%s: %w", key, err)
		}

		b = set(b, n)
	}

	return b, nil
}

func parseRtt(s string) (signal.Rtt, error) {
	switch strings.ToLower(s) {
	case "off", "0", "disabled":
		return signal.RttDisabled, nil
	case "50":
		return signal.Rtt50, nil
	case "75":
		return signal.Rtt75, nil
	case "150":
		return signal.Rtt150, nil
	default:
		return signal.RttDisabled, fmt.Errorf("unknown termination %q", s)
	}
}
