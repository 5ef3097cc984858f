package akmods

// State 表示 akmods 签名密钥的登记状态。该值总是实时推导，不做持久化。
type State string

const (
	// StateEnrolled 表示密钥已在 MOK 数据库中。
	StateEnrolled State = "ENROLLED"
	// StateKeyNotFound 表示密钥目录存在但没有密钥。
	StateKeyNotFound State = "KEY_NOT_FOUND"
	// StateNotEnrolled 表示密钥存在但尚未提交登记。
	StateNotEnrolled State = "NOT_ENROLLED"
	// StatePendingReboot 表示登记请求已提交，等待重启时在 MokManager 中确认。
	StatePendingReboot State = "PENDING_REBOOT"
	// StateError 表示无法确定状态。
	StateError State = "ERROR"
)

func (s State) String() string {
	switch s {
	case StateEnrolled, StateKeyNotFound, StateNotEnrolled, StatePendingReboot, StateError:
		return string(s)
	default:
		return string(StateError)
	}
}

// Terminal 报告单次调用在该状态下是否结束。
func (s State) Terminal() bool {
	switch s {
	case StateEnrolled, StatePendingReboot, StateError:
		return true
	default:
		return false
	}
}
