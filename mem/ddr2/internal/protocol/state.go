package protocol

import "fmt"

// State is the position of the engine in its transaction program.
type State int

// All the engine states.
const (
	StateIdle State = iota
	StateFetchCommand
	StateActivate
	StateWaitRowToColumn
	StateIssueRead
	StateScalarReadWait
	StateScalarReadDrain
	StateIssueWrite
	StateScalarWriteWait
	StateWriteDataBurst
	StateWriteRecoveryWait
	StateBlockActivate
	StateBlockIssueRead
	StateBlockIssueWrite
	StateRefreshPrecharge
	StateRefreshWait
	StateRefreshIssue
	StateRefreshIdle
	StateSelfRefreshPrecharge
	StateSelfRefreshWait
	StateSelfRefreshEnter
	StateSelfRefreshIdle
	StateSelfRefreshExitWait
	StatePowerDownPrecharge
	StatePowerDownWait
	StatePowerDownIdle
	StatePowerDownExitWait
	StateDllPrecharge
	StateDllWait
	StateDllWrite
	StateDllWait2
	StateDllLockWait
	numState
)

var stateNames = [numState]string{
	"Idle",
	"FetchCommand",
	"Activate",
	"WaitRowToColumn",
	"IssueRead",
	"ScalarReadWait",
	"ScalarReadDrain",
	"IssueWrite",
	"ScalarWriteWait",
	"WriteDataBurst",
	"WriteRecoveryWait",
	"BlockActivate",
	"BlockIssueRead",
	"BlockIssueWrite",
	"RefreshPrecharge",
	"RefreshWait",
	"RefreshIssue",
	"RefreshIdle",
	"SelfRefreshPrecharge",
	"SelfRefreshWait",
	"SelfRefreshEnter",
	"SelfRefreshIdle",
	"SelfRefreshExitWait",
	"PowerDownPrecharge",
	"PowerDownWait",
	"PowerDownIdle",
	"PowerDownExitWait",
	"DllPrecharge",
	"DllWait",
	"DllWrite",
	"DllWait2",
	"DllLockWait",
}

func (s State) String() string {
	if s < 0 || s >= numState {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

func (s State) inRefresh() bool {
	return s >= StateRefreshPrecharge && s <= StateRefreshIdle
}

func (s State) inSelfRefresh() bool {
	return s >= StateSelfRefreshEnter && s <= StateSelfRefreshExitWait
}
