package akmods

import (
	"fmt"
	"strings"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// Classifier 将 helper 所调用工具的输出映射为 State，KeyFile 为输出中出现的密钥路径。
type Classifier struct {
	KeyFile string
}

// TestKey 解析 mokutil --test-key 的结果。
//
// mokutil 对“未登记”以退出码 1 结束并在 stdout 给出说明，因此 0 与 1 都按前缀匹配。
func (c Classifier) TestKey(o subprocess.Outcome) (State, error) {
	const tool = "mokutil --test-key"
	if o.ExitCode != 0 {
		if o.Stdout == "" && hasPrefixFold(o.Stderr, "Failed to open "+c.KeyFile+"\n") {
			return StateKeyNotFound, nil
		}
		if o.ExitCode != 1 || o.Stdout == "" {
			return StateError, o.Failure(fmt.Sprintf("Failed to call '%s': ", tool))
		}
	} else if o.Stderr != "" {
		return StateError, apierrors.New(apierrors.CodeToolFailure,
			fmt.Sprintf("Something failed while calling '%s': %s", tool, o.Stderr)).WithExitCode(0)
	}

	prefixes := []struct {
		suffix string
		state  State
	}{
		{"not found\n", StateKeyNotFound},
		{"is not enrolled\n", StateNotEnrolled},
		{"is already in the enrollment request\n", StatePendingReboot},
		{"is already enrolled\n", StateEnrolled},
	}
	for _, p := range prefixes {
		if hasPrefixFold(o.Stdout, c.KeyFile+" "+p.suffix) {
			return p.state, nil
		}
	}
	return StateError, apierrors.New(apierrors.CodeUnexpectedOutput,
		fmt.Sprintf("Unexpected output '%s'", o.Stdout)).WithExitCode(o.ExitCode)
}

// Generate 解析 kmodgenca -a 的结果。kmodgenca 会把进度写到 stderr，成功只看退出码。
func (c Classifier) Generate(o subprocess.Outcome) (State, error) {
	if o.ExitCode != 0 {
		return StateError, o.Failure("Failed to call 'kmodgenca': ")
	}
	return StateNotEnrolled, nil
}

// Import 解析 mokutil --import 的结果。
func (c Classifier) Import(o subprocess.Outcome) (State, error) {
	if !o.Success() {
		return StateError, o.Failure("Failed to call 'mokutil --import': ")
	}
	return StatePendingReboot, nil
}

// InterpretHelperOutcome 按退出码约定解析经 pkexec 调用 helper 的结果。
func InterpretHelperOutcome(o subprocess.Outcome) (State, error) {
	if o.ExitCode == 0 && o.Stderr != "" {
		return StateError, apierrors.New(apierrors.CodeToolFailure, o.Stderr).WithExitCode(0)
	}
	if o.ExitCode == ExitCodeAuthDismissed {
		msg := strings.TrimSpace(o.Stderr)
		if msg == "" {
			msg = "authentication dismissed"
		}
		return StateError, apierrors.New(apierrors.CodeAuthenticationDismissed, msg).WithExitCode(o.ExitCode)
	}
	if state, ok := StateFromExitCode(o.ExitCode); ok {
		return state, nil
	}
	return StateError, o.Failure("")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
