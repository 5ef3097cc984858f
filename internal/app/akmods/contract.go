package akmods

// ContractVersion 是特权 helper 退出码约定的版本号。修改 exitCodeTable 时必须递增，
// 并同时发布 helper 与调用方。
const ContractVersion = 1

const (
	// ExitCodeAuthDismissed 由 pkexec 在用户关闭认证对话框时返回。
	ExitCodeAuthDismissed = 126
	// ExitCodeNotAuthorized 由 pkexec 在未授权或无法执行 helper 时返回。
	ExitCodeNotAuthorized = 127
)

// exitCodeTable 是 helper 与调用方共享的唯一映射。
var exitCodeTable = []struct {
	state State
	code  int
}{
	{StateEnrolled, 0},
	{StateKeyNotFound, 1},
	{StateNotEnrolled, 2},
	{StatePendingReboot, 3},
	{StateError, 4},
}

// ExitCode 返回 helper 报告该状态时使用的进程退出码。
func (s State) ExitCode() int {
	for _, row := range exitCodeTable {
		if row.state == s {
			return row.code
		}
	}
	return StateError.ExitCode()
}

// StateFromExitCode 将 helper 退出码还原为结果状态。StateError 的退出码
// 以及约定之外的退出码都返回 false，调用方应将其视为失败。
func StateFromExitCode(code int) (State, bool) {
	for _, row := range exitCodeTable {
		if row.code == code && row.state != StateError {
			return row.state, true
		}
	}
	return StateError, false
}

// contractTable 返回映射表的副本。
func contractTable() map[State]int {
	out := make(map[State]int, len(exitCodeTable))
	for _, row := range exitCodeTable {
		out[row.state] = row.code
	}
	return out
}
