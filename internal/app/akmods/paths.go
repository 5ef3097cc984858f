package akmods

import (
	"context"
	"os"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
)

const (
	// DefaultKeyDir 为 akmods 证书目录。
	DefaultKeyDir = "/etc/pki/akmods/certs"
	// DefaultKeyFile 为 akmods 公钥证书。
	DefaultKeyFile = DefaultKeyDir + "/public_key.der"
	// DefaultHelperPath 为编译期固定的特权 helper 路径。
	DefaultHelperPath = "/usr/libexec/akmods-enroll-helper"
	// DefaultPkexecPath 为提权工具。
	DefaultPkexecPath = "pkexec"
	// DefaultMokutilPath 为 MOK 管理工具。
	DefaultMokutilPath = "mokutil"
	// DefaultKmodgencaPath 为 akmods 密钥生成工具。
	DefaultKmodgencaPath = "kmodgenca"
)

const (
	// FlagTest 让 helper 只检测密钥状态。
	FlagTest = "--test"
	// FlagEnroll 让 helper 从标准输入读取密码并完成登记。
	FlagEnroll = "--enroll"
)

// Paths 描述密钥位置。
type Paths struct {
	KeyDir  string
	KeyFile string
}

func (p Paths) normalize() Paths {
	if p.KeyDir == "" {
		p.KeyDir = DefaultKeyDir
	}
	if p.KeyFile == "" {
		p.KeyFile = DefaultKeyFile
	}
	return p
}

// Elevation 描述通过 pkexec 调用 helper 的方式。
type Elevation struct {
	Pkexec string
	Helper string
}

func (e Elevation) normalize() Elevation {
	if e.Pkexec == "" {
		e.Pkexec = DefaultPkexecPath
	}
	if e.Helper == "" {
		e.Helper = DefaultHelperPath
	}
	return e
}

func (e Elevation) command(name, flag string, stdin []byte) subprocess.Command {
	return subprocess.Command{Name: name, Path: e.Pkexec, Args: []string{e.Helper, flag}, Stdin: stdin}
}

// Runner 抽象外部进程执行，*subprocess.Runner 满足该接口。
type Runner interface {
	Run(ctx context.Context, c subprocess.Command) (subprocess.Outcome, error)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
