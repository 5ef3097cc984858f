package subprocess

import (
	"strings"

	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// Outcome 记录一次外部进程调用的退出状态与完整输出。
type Outcome struct {
	// Command 为可读的命令行，仅用于诊断。
	Command string
	// ExitCode 为进程退出码，被信号终止时为 -1。
	ExitCode int
	// Detail 描述非零退出，例如 "exit status 4" 或 "signal: killed"。
	Detail string
	Stdout string
	Stderr string
}

// Success 当且仅当进程以 0 退出且 stderr 为空。
func (o Outcome) Success() bool {
	return o.ExitCode == 0 && o.Stderr == ""
}

// Diagnostic 返回最有信息量的诊断文本：stdout 为空时直接使用 stderr，
// 否则组合退出信息与带标签的两路输出。
func (o Outcome) Diagnostic() string {
	if o.Stderr != "" && (o.Stdout == "" || o.ExitCode == 0) {
		return o.Stderr
	}
	var b strings.Builder
	if o.ExitCode != 0 {
		detail := o.Detail
		if detail == "" {
			detail = "process failed"
		}
		b.WriteString(detail)
	}
	if o.Stdout != "" {
		b.WriteString("\nstdout: ")
		b.WriteString(o.Stdout)
	}
	if o.Stderr != "" {
		b.WriteString("\nstderr: ")
		b.WriteString(o.Stderr)
	}
	return strings.TrimPrefix(b.String(), "\n")
}

// Failure 将诊断文本包装为 CodeToolFailure，prefix 非空时放在诊断之前。
func (o Outcome) Failure(prefix string) *apierrors.Error {
	return apierrors.New(apierrors.CodeToolFailure, prefix+o.Diagnostic()).WithExitCode(o.ExitCode)
}
